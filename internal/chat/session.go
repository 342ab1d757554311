package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Vovarama1992/ai-chat/internal/logger"
)

// Transport carries a Session's traffic to the server.
type Transport interface {
	// StreamTurn submits one turn and calls onFragment for every fragment
	// until the stream ends. An in-band error line is returned as an error
	// wrapping ErrGateway.
	StreamTurn(ctx context.Context, in TurnInput, onFragment func(Fragment)) error
	SaveChat(ctx context.Context, id string, msgs []Message) error
}

type TurnInput struct {
	ConversationID string
	Message        Message
	// History is the full local transcript, ending with Message.
	History []Message
	Model   string
}

type Status string

const (
	StatusReady     Status = "ready"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

type Snapshot struct {
	ConversationID string
	Model          string
	Status         Status
	Messages       []Message
	Err            error
}

type SessionOptions struct {
	ConversationID string
	Model          string
	Messages       []Message
	Transport      Transport
	SaveDelay      time.Duration
	SaveTimeout    time.Duration
	OnChange       func(Snapshot)
	IDs            IDGenerator
	Now            func() time.Time
}

// Session is the client-side state of one conversation. It keeps the
// transcript, runs at most one turn at a time and persists edits.
type Session struct {
	opts SessionOptions

	mu       sync.Mutex
	model    string
	messages []Message
	reply    *Message
	status   Status
	err      error
	cancel   context.CancelFunc
	stopped  bool
	timer    *time.Timer
	closed   bool
}

func NewSession(opts SessionOptions) *Session {
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = 500 * time.Millisecond
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 10 * time.Second
	}
	if opts.IDs.Prefix == "" {
		opts.IDs = ClientIDs
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	msgs := cloneMessages(opts.Messages)
	if msgs == nil {
		msgs = []Message{}
	}
	return &Session{
		opts:     opts,
		model:    opts.Model,
		messages: msgs,
		status:   StatusReady,
	}
}

// Submit appends a user message and runs a turn for it. It blocks until
// the stream ends and the transcript has been saved.
func (s *Session) Submit(ctx context.Context, text string, att *Attachment) error {
	msg := Message{
		ID:        s.opts.IDs.New(),
		Role:      RoleUser,
		CreatedAt: s.opts.Now().UTC(),
		Content:   text,
	}
	if text != "" {
		msg.Parts = []Part{{Type: PartText, Text: text}}
	}
	if att != nil {
		msg.Attachments = []Attachment{*att}
	}
	if !msg.HasContent() && att == nil {
		return validationf("message is empty")
	}

	s.mu.Lock()
	if err := s.beginLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.messages = append(s.messages, msg)
	return s.run(ctx, msg)
}

// Retry drops a trailing assistant reply and runs the last user message
// again under the same id.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if err := s.beginLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	msgs := s.messages
	if n := len(msgs); n > 0 && msgs[n-1].Role == RoleAssistant {
		msgs = msgs[:n-1]
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != RoleUser {
		s.status = StatusReady
		s.mu.Unlock()
		return validationf("nothing to retry")
	}
	s.messages = msgs
	return s.run(ctx, msgs[len(msgs)-1])
}

// beginLocked claims the single turn slot.
func (s *Session) beginLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.status == StatusSubmitted || s.status == StatusStreaming {
		return ErrBusy
	}
	s.status = StatusSubmitted
	s.err = nil
	s.stopped = false
	return nil
}

// run is entered with s.mu held and releases it.
func (s *Session) run(ctx context.Context, msg Message) error {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.reply = &Message{Role: RoleAssistant, CreatedAt: s.opts.Now().UTC()}
	in := TurnInput{
		ConversationID: s.opts.ConversationID,
		Message:        msg,
		History:        cloneMessages(s.messages),
		Model:          s.model,
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	err := s.opts.Transport.StreamTurn(turnCtx, in, func(f Fragment) {
		s.mu.Lock()
		s.status = StatusStreaming
		ApplyFragment(s.reply, f)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.notify(snap)
	})

	s.mu.Lock()
	stopped := s.stopped
	if stopped || errors.Is(err, context.Canceled) && ctx.Err() == nil {
		err = nil
	}
	s.messages = AssemblePersist(s.messages, s.reply)
	s.reply = nil
	s.cancel = nil
	if err != nil {
		s.status = StatusError
		s.err = err
	} else {
		s.status = StatusReady
	}
	// this save covers every edit made so far
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	toSave := cloneMessages(s.messages)
	snap = s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	if saveErr := s.save(ctx, toSave); saveErr != nil && err == nil {
		return saveErr
	}
	return err
}

// Delete removes a message locally and schedules a debounced save. It
// reports whether a message with that id existed.
func (s *Session) Delete(id string) bool {
	s.mu.Lock()
	found := false
	for _, m := range s.messages {
		if m.ID == id {
			found = true
			break
		}
	}
	if !found || s.closed {
		s.mu.Unlock()
		return false
	}
	s.messages = RemoveMessage(s.messages, id)
	s.scheduleSaveLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return true
}

// Stop cancels the in-flight turn. The partial reply is kept.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.stopped = true
		s.cancel()
	}
}

func (s *Session) SetModel(model string) {
	s.mu.Lock()
	s.model = model
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close stops any turn and flushes a pending debounced save.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.stopped = true
		s.cancel()
	}
	pending := s.timer != nil && s.timer.Stop()
	s.timer = nil
	toSave := cloneMessages(s.messages)
	s.mu.Unlock()

	if !pending {
		return nil
	}
	return s.save(context.Background(), toSave)
}

func (s *Session) scheduleSaveLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.opts.SaveDelay, s.flush)
}

func (s *Session) flush() {
	s.mu.Lock()
	s.timer = nil
	toSave := cloneMessages(s.messages)
	s.mu.Unlock()
	_ = s.save(context.Background(), toSave)
}

func (s *Session) save(ctx context.Context, msgs []Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SaveTimeout)
	defer cancel()
	if err := s.opts.Transport.SaveChat(ctx, s.opts.ConversationID, msgs); err != nil {
		logger.Warn("session_save_failed", "chat_id", s.opts.ConversationID, "messages", len(msgs), "err", err)
		return err
	}
	return nil
}

func (s *Session) snapshotLocked() Snapshot {
	msgs := cloneMessages(s.messages)
	if s.reply != nil && s.reply.HasContent() {
		msgs = append(msgs, s.reply.clone())
	}
	return Snapshot{
		ConversationID: s.opts.ConversationID,
		Model:          s.model,
		Status:         s.status,
		Messages:       msgs,
		Err:            s.err,
	}
}

func (s *Session) notify(snap Snapshot) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(snap)
	}
}
