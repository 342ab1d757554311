package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewRepo(db), mock
}

func TestPostgresCreate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chats (id, owner_id, name)")).
		WithArgs(sqlmock.AnyArg(), "alice", DefaultConversationName).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))

	id, err := repo.Create(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
}

func TestPostgresCreateNoRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chats")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Create(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrStorage)
}

func TestPostgresGet(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw, err := json.Marshal([]Message{textMsg("u1", RoleUser, "Hello")})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("FROM chats")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "created_at", "updated_at", "messages"}).
			AddRow("c1", "alice", "New conversation", now, now, raw))

	conv, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "alice", conv.OwnerID)
	assert.Equal(t, []string{"u1"}, ids(conv.Messages))
}

func TestPostgresGetMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM chats")).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	conv, err := repo.Get(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, conv)
}

func TestPostgresList(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "created_at", "updated_at"}).
			AddRow("c2", "alice", "b", now, now).
			AddRow("c1", "alice", "a", now.Add(-time.Hour), now))

	list, err := repo.List(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID)
}

func TestPostgresReplaceMessages(t *testing.T) {
	repo, mock := newMockRepo(t)
	prev := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{textMsg("u1", RoleUser, "Hello")}
	raw, err := json.Marshal(msgs)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE chats")).
		WithArgs("c1", string(raw)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(prev))

	got, err := repo.ReplaceMessages(context.Background(), "c1", msgs)
	require.NoError(t, err)
	assert.True(t, got.Equal(prev))
}

func TestPostgresReplaceMessagesNoRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE chats")).
		WithArgs("ghost", "[]").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.ReplaceMessages(context.Background(), "ghost", nil)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "replace_messages", se.Op)
}

func TestPostgresReplaceMessagesDriverError(t *testing.T) {
	repo, mock := newMockRepo(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE chats")).WillReturnError(boom)

	_, err := repo.ReplaceMessages(context.Background(), "c1", []Message{})
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, boom)
}

func TestPostgresDeleteOwnership(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM chats")).
		WithArgs("c1", "mallory").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM chats")).
		WithArgs("c1", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))

	assert.ErrorIs(t, repo.Delete(context.Background(), "c1", "mallory"), ErrUnauthorized)
	assert.NoError(t, repo.Delete(context.Background(), "c1", "alice"))
}

func TestPostgresRename(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SET name = $3")).
		WithArgs("c1", "alice", "Trip").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))

	assert.NoError(t, repo.Rename(context.Background(), "c1", "alice", "Trip"))
}

func TestPostgresEnsureSchema(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS chats")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.EnsureSchema(context.Background()))
}
