package ai

import (
	"context"
	"encoding/json"
)

// Gateway is the external generator. It knows nothing about conversations
// or storage: it receives an ordered message list and streams one reply.
type Gateway interface {
	Stream(ctx context.Context, req Request) (Stream, error)
	// ResolveModel maps a client-chosen model name onto a supported one.
	ResolveModel(requested string) string
}

// Stream yields deltas until io.EOF. Close releases the underlying request.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}

type Request struct {
	Model    string
	System   string
	Messages []Message
}

// Message is the provider-neutral dialogue format.
type Message struct {
	Role       string // "user" | "assistant" | "system" | "tool"
	Text       string
	ImageURLs  []string
	ToolCalls  []ToolCall // assistant turns that invoked tools
	ToolCallID string     // tool turns answering a call
}

type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

type ToolResult struct {
	CallID string
	Name   string
	Result json.RawMessage
}

// Delta is exactly one of: a text fragment, a tool call, a tool result,
// or the final finish reason.
type Delta struct {
	Text         string
	ToolCall     *ToolCall
	ToolResult   *ToolResult
	FinishReason string
}
