package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryOwnershipIsolation(t *testing.T) {
	repo := newMemRepo(t)
	dir := NewDirectory(repo)
	ctx := context.Background()

	id, err := dir.Create(ctx, "alice")
	require.NoError(t, err)
	_, err = repo.ReplaceMessages(ctx, id, []Message{textMsg("u1", RoleUser, "secret")})
	require.NoError(t, err)

	conv, err := dir.Get(ctx, "mallory", id)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, conv)

	assert.ErrorIs(t, dir.Rename(ctx, "mallory", id, "mine now"), ErrUnauthorized)
	assert.ErrorIs(t, dir.Delete(ctx, "mallory", id), ErrUnauthorized)

	list, err := dir.List(ctx, "mallory")
	require.NoError(t, err)
	assert.Empty(t, list)

	// untouched for the owner
	conv, err = dir.Get(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, DefaultConversationName, conv.Name)
	assert.Equal(t, "secret", conv.Messages[0].Content)
}

func TestDirectoryEmptyCaller(t *testing.T) {
	dir := NewDirectory(newMemRepo(t))
	ctx := context.Background()

	_, err := dir.Create(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = dir.List(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = dir.Get(ctx, "", "x")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, dir.Rename(ctx, "", "x", "n"), ErrUnauthorized)
	assert.ErrorIs(t, dir.Delete(ctx, "", "x"), ErrUnauthorized)
}

func TestDirectoryGetMissingLooksUnauthorized(t *testing.T) {
	dir := NewDirectory(newMemRepo(t))
	_, err := dir.Get(context.Background(), "alice", "does-not-exist")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDirectoryRenameValidation(t *testing.T) {
	repo := newMemRepo(t)
	dir := NewDirectory(repo)
	ctx := context.Background()
	id, err := dir.Create(ctx, "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, dir.Rename(ctx, "alice", id, "   "), ErrValidation)
	assert.ErrorIs(t, dir.Rename(ctx, "alice", id, strings.Repeat("x", 300)), ErrValidation)

	require.NoError(t, dir.Rename(ctx, "alice", id, "  Holiday  "))
	conv, err := dir.Get(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, "Holiday", conv.Name)
}

func TestDirectoryDelete(t *testing.T) {
	repo := newMemRepo(t)
	dir := NewDirectory(repo)
	ctx := context.Background()
	id, err := dir.Create(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, dir.Delete(ctx, "alice", id))
	_, err = dir.Get(ctx, "alice", id)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
