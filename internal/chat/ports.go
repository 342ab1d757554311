package chat

import (
	"context"
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Message is one turn of a transcript. CreatedAt is advisory; transcript
// order is slice order.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	CreatedAt   time.Time    `json:"createdAt"`
	Content     string       `json:"content"`
	Parts       []Part       `json:"parts,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type PartType string

const (
	PartText           PartType = "text"
	PartToolInvocation PartType = "tool-invocation"
)

// Part is a tagged variant: Text is set for PartText, ToolInvocation for
// PartToolInvocation.
type Part struct {
	Type           PartType        `json:"type"`
	Text           string          `json:"text,omitempty"`
	ToolInvocation *ToolInvocation `json:"toolInvocation,omitempty"`
}

type ToolState string

const (
	ToolStateCall   ToolState = "call"
	ToolStateResult ToolState = "result"
)

type ToolInvocation struct {
	State      ToolState       `json:"state"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

type Attachment struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	URL         string `json:"url"`
}

type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

type Summary struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const DefaultConversationName = "New conversation"

// Repo is the transcript store.
type Repo interface {
	// Create allocates an empty conversation owned by ownerID.
	Create(ctx context.Context, ownerID string) (string, error)
	// Get returns nil, nil when the conversation does not exist.
	Get(ctx context.Context, id string) (*Conversation, error)
	// List returns the owner's conversations, newest first.
	List(ctx context.Context, ownerID string) ([]Summary, error)
	// ReplaceMessages overwrites the whole transcript and returns the
	// updatedAt that was stored immediately before the write.
	ReplaceMessages(ctx context.Context, id string, msgs []Message) (time.Time, error)
	Rename(ctx context.Context, id, ownerID, name string) error
	Delete(ctx context.Context, id, ownerID string) error
}
