package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/Vovarama1992/ai-chat/internal/ai"
	"github.com/Vovarama1992/ai-chat/internal/logger"
	"github.com/Vovarama1992/ai-chat/internal/metrics"
)

const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeFailed    = "failed"
)

type ServiceOptions struct {
	SystemPrompt      string
	GatewayTimeout    time.Duration
	SaveTimeout       time.Duration
	MaxAttachmentSize int64
	IDs               IDGenerator
	Now               func() time.Time
}

type Service struct {
	repo    Repo
	gateway ai.Gateway
	opts    ServiceOptions
}

func NewService(repo Repo, gateway ai.Gateway, opts ServiceOptions) *Service {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 30 * time.Second
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 10 * time.Second
	}
	if opts.IDs.Prefix == "" {
		opts.IDs = ServerIDs
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{repo: repo, gateway: gateway, opts: opts}
}

type TurnRequest struct {
	ConversationID string
	UserID         string
	Message        Message
	// History is the client's view of the transcript. Nil means the
	// client sent none and the stored transcript is used.
	History    []Message
	Model      string
	Attachment *Attachment
}

// Turn is a validated chat turn ready to stream.
type Turn struct {
	svc            *Service
	conversationID string
	model          string
	toSend         []Message
}

type TurnResult struct {
	Outcome   string
	Reply     *Message
	Persisted []Message
	Err       error
}

// Prepare validates a turn, checks ownership and assembles the submission.
// Errors returned here happen before any output is streamed.
func (s *Service) Prepare(ctx context.Context, req TurnRequest) (*Turn, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return nil, validationf("id is required")
	}
	msg := req.Message
	if msg.Role == "" {
		msg.Role = RoleUser
	}
	if msg.Role != RoleUser {
		return nil, validationf("message role must be user, got %q", msg.Role)
	}
	if req.Attachment != nil {
		msg.Attachments = append(msg.Attachments, *req.Attachment)
	}
	if msg.Text() == "" && len(msg.Attachments) == 0 {
		return nil, validationf("message is empty")
	}
	for _, a := range msg.Attachments {
		if err := validateAttachment(a, s.opts.MaxAttachmentSize); err != nil {
			return nil, err
		}
	}
	if msg.ID == "" {
		msg.ID = ClientIDs.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.opts.Now().UTC()
	}
	if len(msg.Parts) == 0 && msg.Content != "" {
		msg.Parts = []Part{{Type: PartText, Text: msg.Content}}
	}

	conv, err := s.repo.Get(ctx, req.ConversationID)
	if err != nil {
		logger.Error("chat_load_failed", "chat_id", req.ConversationID, "err", err)
		metrics.StoreFailure("get")
		return nil, err
	}
	if conv == nil || conv.OwnerID != req.UserID {
		return nil, ErrUnauthorized
	}

	history := req.History
	if history == nil {
		history = conv.Messages
	}

	return &Turn{
		svc:            s,
		conversationID: req.ConversationID,
		model:          s.gateway.ResolveModel(req.Model),
		toSend:         AssembleSubmission(history, msg),
	}, nil
}

func (t *Turn) Model() string { return t.model }

func (t *Turn) Submission() []Message { return cloneMessages(t.toSend) }

// Run streams the reply through emit and then persists the transcript on
// every path: completion, gateway failure, timeout and cancellation. emit
// failures (client gone) end generation like a stop.
func (t *Turn) Run(ctx context.Context, emit func(Fragment) error) TurnResult {
	s := t.svc
	started := time.Now()

	reply := Message{
		ID:        s.opts.IDs.New(),
		Role:      RoleAssistant,
		CreatedAt: s.opts.Now().UTC(),
	}

	send := func(f Fragment) bool {
		if emit == nil {
			return true
		}
		return emit(f) == nil
	}

	outcome, genErr := t.generate(ctx, &reply, send)

	toPersist := AssemblePersist(t.toSend, &reply)
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SaveTimeout)
	defer cancel()
	if _, err := s.repo.ReplaceMessages(saveCtx, t.conversationID, toPersist); err != nil {
		logger.Error("chat_persist_failed", "chat_id", t.conversationID, "messages", len(toPersist), "err", err)
		metrics.StoreFailure("replace_messages")
	}

	if genErr != nil {
		send(Fragment{Kind: FragmentError, Text: ErrorText(genErr)})
	} else {
		reason := "stop"
		if outcome == OutcomeStopped {
			reason = "abort"
		}
		send(Fragment{Kind: FragmentFinish, FinishReason: reason})
	}

	metrics.Turn(outcome, time.Since(started))
	logger.Info("chat_turn",
		"chat_id", t.conversationID,
		"model", t.model,
		"outcome", outcome,
		"persisted", len(toPersist),
		"elapsed", time.Since(started).String(),
	)

	res := TurnResult{Outcome: outcome, Persisted: toPersist, Err: genErr}
	if reply.HasContent() {
		res.Reply = &reply
	}
	return res
}

func (t *Turn) generate(ctx context.Context, reply *Message, send func(Fragment) bool) (string, error) {
	s := t.svc
	genCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	if !send(Fragment{Kind: FragmentStart, MessageID: reply.ID}) {
		return OutcomeStopped, nil
	}

	stream, err := s.gateway.Stream(genCtx, ai.Request{
		Model:    t.model,
		System:   s.opts.SystemPrompt,
		Messages: toAIMessages(t.toSend),
	})
	if err != nil {
		return t.classify(ctx, genCtx, err)
	}
	defer stream.Close()

	for {
		d, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return OutcomeCompleted, nil
		}
		if err != nil {
			return t.classify(ctx, genCtx, err)
		}

		f, ok := fragmentFromDelta(d)
		if !ok {
			continue
		}
		if f.Kind == FragmentFinish {
			// the terminal marker is sent after persistence
			continue
		}
		ApplyFragment(reply, f)
		if !send(f) {
			logger.Debug("chat_client_gone", "chat_id", t.conversationID)
			return OutcomeStopped, nil
		}
	}
}

// classify maps a generation error: the caller going away is a stop,
// the wall-clock ceiling is a timeout, anything else a gateway failure.
func (t *Turn) classify(parent, genCtx context.Context, err error) (string, error) {
	if parent.Err() != nil {
		return OutcomeStopped, nil
	}
	timeout := errors.Is(genCtx.Err(), context.DeadlineExceeded)
	metrics.GatewayError(t.model)
	logger.Warn("chat_gateway_failed", "chat_id", t.conversationID, "model", t.model, "timeout", timeout, "err", err)
	return OutcomeFailed, &GatewayError{Model: t.model, Timeout: timeout, Err: err}
}

func fragmentFromDelta(d ai.Delta) (Fragment, bool) {
	switch {
	case d.ToolCall != nil:
		return Fragment{Kind: FragmentToolCall, ToolCallID: d.ToolCall.ID, ToolName: d.ToolCall.Name, Args: d.ToolCall.Args}, true
	case d.ToolResult != nil:
		return Fragment{Kind: FragmentToolResult, ToolCallID: d.ToolResult.CallID, ToolName: d.ToolResult.Name, Result: d.ToolResult.Result}, true
	case d.Text != "":
		return Fragment{Kind: FragmentText, Text: d.Text}, true
	case d.FinishReason != "":
		return Fragment{Kind: FragmentFinish, FinishReason: d.FinishReason}, true
	}
	return Fragment{}, false
}

type SaveRequest struct {
	ConversationID string
	UserID         string
	Messages       []Message
	// ObservedUpdatedAt is the revision the client loaded, if it knows it.
	ObservedUpdatedAt *time.Time
}

// SaveChat overwrites the stored transcript with the client's list.
func (s *Service) SaveChat(ctx context.Context, req SaveRequest) error {
	if strings.TrimSpace(req.ConversationID) == "" || req.Messages == nil {
		return validationf("chat id and messages are required")
	}

	conv, err := s.repo.Get(ctx, req.ConversationID)
	if err != nil {
		metrics.StoreFailure("get")
		logger.Error("chat_save_load_failed", "chat_id", req.ConversationID, "err", err)
		return err
	}
	// a vanished conversation falls through to the store, which reports it
	if conv != nil && conv.OwnerID != req.UserID {
		return ErrUnauthorized
	}

	prev, err := s.repo.ReplaceMessages(ctx, req.ConversationID, req.Messages)
	if err != nil {
		metrics.StoreFailure("replace_messages")
		logger.Error("chat_save_failed", "chat_id", req.ConversationID, "messages", len(req.Messages), "err", err)
		return err
	}
	if req.ObservedUpdatedAt != nil && !prev.Equal(*req.ObservedUpdatedAt) {
		logger.Warn("last_writer_wins",
			"chat_id", req.ConversationID,
			"observed_updated_at", req.ObservedUpdatedAt.UTC().Format(time.RFC3339Nano),
			"stored_updated_at", prev.UTC().Format(time.RFC3339Nano),
		)
	}
	logger.Debug("chat_saved", "chat_id", req.ConversationID, "messages", len(req.Messages))
	return nil
}
