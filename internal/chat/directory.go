package chat

import (
	"context"
	"strings"

	"github.com/Vovarama1992/ai-chat/internal/logger"
	"github.com/Vovarama1992/ai-chat/internal/metrics"
)

// Directory exposes conversation metadata operations scoped to the
// calling user. A missing conversation and a foreign one look the same to
// the caller: both are ErrUnauthorized.
type Directory struct {
	repo Repo
}

func NewDirectory(repo Repo) *Directory {
	return &Directory{repo: repo}
}

func (d *Directory) Create(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrUnauthorized
	}
	id, err := d.repo.Create(ctx, userID)
	if err != nil {
		metrics.StoreFailure("create")
		logger.Error("chat_create_failed", "user_id", userID, "err", err)
		return "", err
	}
	logger.Info("chat_created", "chat_id", id, "user_id", userID)
	return id, nil
}

func (d *Directory) List(ctx context.Context, userID string) ([]Summary, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	out, err := d.repo.List(ctx, userID)
	if err != nil {
		metrics.StoreFailure("list")
		logger.Error("chat_list_failed", "user_id", userID, "err", err)
		return nil, err
	}
	if out == nil {
		out = []Summary{}
	}
	return out, nil
}

func (d *Directory) Get(ctx context.Context, userID, id string) (*Conversation, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	conv, err := d.repo.Get(ctx, id)
	if err != nil {
		metrics.StoreFailure("get")
		logger.Error("chat_get_failed", "chat_id", id, "err", err)
		return nil, err
	}
	if conv == nil || conv.OwnerID != userID {
		return nil, ErrUnauthorized
	}
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	return conv, nil
}

func (d *Directory) Rename(ctx context.Context, userID, id, name string) error {
	if userID == "" {
		return ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return validationf("name cannot be empty")
	}
	if len(name) > 256 {
		return validationf("name too long")
	}
	if err := d.repo.Rename(ctx, id, userID, name); err != nil {
		if !isUnauthorized(err) {
			metrics.StoreFailure("rename")
			logger.Error("chat_rename_failed", "chat_id", id, "err", err)
		}
		return err
	}
	return nil
}

func (d *Directory) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrUnauthorized
	}
	if err := d.repo.Delete(ctx, id, userID); err != nil {
		if !isUnauthorized(err) {
			metrics.StoreFailure("delete")
			logger.Error("chat_delete_failed", "chat_id", id, "err", err)
		}
		return err
	}
	logger.Info("chat_deleted", "chat_id", id, "user_id", userID)
	return nil
}
