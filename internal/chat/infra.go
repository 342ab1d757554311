package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	messages   JSONB NOT NULL DEFAULT '[]'::jsonb
);
CREATE INDEX IF NOT EXISTS chats_owner_created_idx ON chats (owner_id, created_at DESC);
`

type PostgresRepo struct {
	db *sql.DB
}

// NewRepo returns the Postgres-backed transcript store.
func NewRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Create(ctx context.Context, ownerID string) (string, error) {
	id := newConversationID()

	var created string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO chats (id, owner_id, name)
		VALUES ($1, $2, $3)
		RETURNING id
	`, id, ownerID, DefaultConversationName).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && created == "") {
		return "", &StorageError{Op: "create", ID: id}
	}
	if err != nil {
		return "", &StorageError{Op: "create", ID: id, Err: err}
	}
	return created, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	var raw []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, created_at, updated_at, messages
		FROM chats
		WHERE id = $1
	`, id).Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt, &c.UpdatedAt, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get", ID: id, Err: err}
	}

	msgs, err := decodeMessages(raw)
	if err != nil {
		return nil, &StorageError{Op: "get", ID: id, Err: err}
	}
	c.Messages = msgs
	return &c, nil
}

func (r *PostgresRepo) List(ctx context.Context, ownerID string) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, name, created_at, updated_at
		FROM chats
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, &StorageError{Op: "list", ID: ownerID, Err: err}
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Name, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, &StorageError{Op: "list", ID: ownerID, Err: err}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", ID: ownerID, Err: err}
	}
	return out, nil
}

func (r *PostgresRepo) ReplaceMessages(ctx context.Context, id string, msgs []Message) (time.Time, error) {
	raw, err := encodeMessages(msgs)
	if err != nil {
		return time.Time{}, &StorageError{Op: "replace_messages", ID: id, Err: err}
	}

	var prev time.Time
	err = r.db.QueryRowContext(ctx, `
		WITH prev AS (SELECT updated_at FROM chats WHERE id = $1)
		UPDATE chats
		SET messages = $2, updated_at = now()
		WHERE id = $1
		RETURNING (SELECT updated_at FROM prev)
	`, id, string(raw)).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, &StorageError{Op: "replace_messages", ID: id}
	}
	if err != nil {
		return time.Time{}, &StorageError{Op: "replace_messages", ID: id, Err: err}
	}
	return prev, nil
}

func (r *PostgresRepo) Rename(ctx context.Context, id, ownerID, name string) error {
	var got string
	err := r.db.QueryRowContext(ctx, `
		UPDATE chats
		SET name = $3, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING id
	`, id, ownerID, name).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnauthorized
	}
	if err != nil {
		return &StorageError{Op: "rename", ID: id, Err: err}
	}
	return nil
}

// Delete removes the row and with it the whole transcript.
func (r *PostgresRepo) Delete(ctx context.Context, id, ownerID string) error {
	var got string
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM chats
		WHERE id = $1 AND owner_id = $2
		RETURNING id
	`, id, ownerID).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnauthorized
	}
	if err != nil {
		return &StorageError{Op: "delete", ID: id, Err: err}
	}
	return nil
}

func encodeMessages(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(msgs)
}

func decodeMessages(raw []byte) ([]Message, error) {
	msgs := []Message{}
	if len(raw) == 0 {
		return msgs, nil
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}
