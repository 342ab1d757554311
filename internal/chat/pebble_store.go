package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	chatKeyPrefix  = "chat/"
	ownerKeyPrefix = "owner/"
)

// PebbleRepo keeps each conversation as one JSON value keyed by id, plus
// an owner/<owner>/<id> index key for listing. mu serialises the
// read-modify-write cycles pebble itself does not coordinate.
type PebbleRepo struct {
	mu     sync.Mutex
	db     *pebble.DB
	now    func() time.Time
	closed bool
}

func OpenPebbleRepo(path string, opts *pebble.Options) (*PebbleRepo, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	return &PebbleRepo{db: db, now: time.Now}, nil
}

func (r *PebbleRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	return r.db.Close()
}

func chatKey(id string) []byte { return []byte(chatKeyPrefix + id) }

func ownerKey(ownerID, id string) []byte {
	return []byte(ownerKeyPrefix + ownerID + "/" + id)
}

func (r *PebbleRepo) Create(_ context.Context, ownerID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	id := newConversationID()
	now := r.now().UTC()
	conv := Conversation{
		ID:        id,
		OwnerID:   ownerID,
		Name:      DefaultConversationName,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}

	b := r.db.NewBatch()
	defer b.Close()
	if err := r.putLocked(b, &conv); err != nil {
		return "", &StorageError{Op: "create", ID: id, Err: err}
	}
	if err := b.Set(ownerKey(ownerID, id), nil, nil); err != nil {
		return "", &StorageError{Op: "create", ID: id, Err: err}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return "", &StorageError{Op: "create", ID: id, Err: err}
	}

	// read back to confirm the write landed
	got, err := r.getLocked(id)
	if err != nil {
		return "", &StorageError{Op: "create", ID: id, Err: err}
	}
	if got == nil {
		return "", &StorageError{Op: "create", ID: id}
	}
	return id, nil
}

func (r *PebbleRepo) Get(_ context.Context, id string) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	conv, err := r.getLocked(id)
	if err != nil {
		return nil, &StorageError{Op: "get", ID: id, Err: err}
	}
	return conv, nil
}

func (r *PebbleRepo) List(_ context.Context, ownerID string) ([]Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	prefix := []byte(ownerKeyPrefix + ownerID + "/")
	upper := append(append([]byte{}, prefix...), 0xff)
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, &StorageError{Op: "list", ID: ownerID, Err: err}
	}
	defer iter.Close()

	out := []Summary{}
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Key()[len(prefix):])
		conv, err := r.getLocked(id)
		if err != nil {
			return nil, &StorageError{Op: "list", ID: ownerID, Err: err}
		}
		if conv == nil {
			continue
		}
		out = append(out, Summary{
			ID:        conv.ID,
			OwnerID:   conv.OwnerID,
			Name:      conv.Name,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, &StorageError{Op: "list", ID: ownerID, Err: err}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *PebbleRepo) ReplaceMessages(_ context.Context, id string, msgs []Message) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return time.Time{}, ErrClosed
	}

	conv, err := r.getLocked(id)
	if err != nil {
		return time.Time{}, &StorageError{Op: "replace_messages", ID: id, Err: err}
	}
	if conv == nil {
		return time.Time{}, &StorageError{Op: "replace_messages", ID: id}
	}

	prev := conv.UpdatedAt
	if msgs == nil {
		msgs = []Message{}
	}
	conv.Messages = msgs
	conv.UpdatedAt = r.now().UTC()

	b := r.db.NewBatch()
	defer b.Close()
	if err := r.putLocked(b, conv); err != nil {
		return time.Time{}, &StorageError{Op: "replace_messages", ID: id, Err: err}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return time.Time{}, &StorageError{Op: "replace_messages", ID: id, Err: err}
	}
	return prev, nil
}

func (r *PebbleRepo) Rename(_ context.Context, id, ownerID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	conv, err := r.getLocked(id)
	if err != nil {
		return &StorageError{Op: "rename", ID: id, Err: err}
	}
	if conv == nil || conv.OwnerID != ownerID {
		return ErrUnauthorized
	}
	conv.Name = name
	conv.UpdatedAt = r.now().UTC()

	b := r.db.NewBatch()
	defer b.Close()
	if err := r.putLocked(b, conv); err != nil {
		return &StorageError{Op: "rename", ID: id, Err: err}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return &StorageError{Op: "rename", ID: id, Err: err}
	}
	return nil
}

// Delete drops the conversation and its index key in one batch.
func (r *PebbleRepo) Delete(_ context.Context, id, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	conv, err := r.getLocked(id)
	if err != nil {
		return &StorageError{Op: "delete", ID: id, Err: err}
	}
	if conv == nil || conv.OwnerID != ownerID {
		return ErrUnauthorized
	}

	b := r.db.NewBatch()
	defer b.Close()
	if err := b.Delete(chatKey(id), nil); err != nil {
		return &StorageError{Op: "delete", ID: id, Err: err}
	}
	if err := b.Delete(ownerKey(ownerID, id), nil); err != nil {
		return &StorageError{Op: "delete", ID: id, Err: err}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return &StorageError{Op: "delete", ID: id, Err: err}
	}
	return nil
}

func (r *PebbleRepo) getLocked(id string) (*Conversation, error) {
	data, closer, err := r.db.Get(chatKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	defer closer.Close()

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	return &conv, nil
}

func (r *PebbleRepo) putLocked(b *pebble.Batch, conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return b.Set(chatKey(conv.ID), data, nil)
}
