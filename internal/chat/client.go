package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Vovarama1992/ai-chat/internal/auth"
	"github.com/Vovarama1992/ai-chat/internal/logger"
)

// Client is the HTTP Transport the Session talks through, plus the
// directory procedures a terminal client needs. Every request carries the
// signed identity headers.
type Client struct {
	baseURL   string
	userID    string
	signature string
	http      *http.Client
}

// NewClient needs no overall timeout on hc: chat responses stream for as
// long as generation runs and are bounded by the request context.
func NewClient(baseURL, userID, signingKey string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userID:    userID,
		signature: auth.Sign(signingKey, userID),
		http:      hc,
	}
}

func (c *Client) StreamTurn(ctx context.Context, in TurnInput, onFragment func(Fragment)) error {
	msg := in.Message
	resp, err := c.post(ctx, "/chat", chatPayload{
		ID:            in.ConversationID,
		Message:       &msg,
		Messages:      in.History,
		SelectedModel: in.Model,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	rd := NewStreamReader(resp.Body)
	finished := false
	for {
		f, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}
		switch f.Kind {
		case FragmentError:
			return fmt.Errorf("%w: %s", ErrGateway, f.Text)
		case FragmentFinish:
			finished = true
		}
		if onFragment != nil {
			onFragment(f)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !finished {
		return fmt.Errorf("%w: stream ended without a finish marker", ErrGateway)
	}
	return nil
}

func (c *Client) SaveChat(ctx context.Context, id string, msgs []Message) error {
	if msgs == nil {
		msgs = []Message{}
	}
	resp, err := c.post(ctx, "/save-chat", savePayload{ID: id, Messages: msgs})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) CreateChat(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.rpc(ctx, "chat.create", rpcInput{}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) ListChats(ctx context.Context) ([]Summary, error) {
	var out []Summary
	if err := c.rpc(ctx, "chat.list", rpcInput{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetChat(ctx context.Context, id string) (*Conversation, error) {
	var out Conversation
	if err := c.rpc(ctx, "chat.get", rpcInput{ChatID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenameChat(ctx context.Context, id, name string) error {
	return c.rpc(ctx, "chat.rename", rpcInput{ChatID: id, Name: name}, nil)
}

func (c *Client) DeleteChat(ctx context.Context, id string) error {
	return c.rpc(ctx, "chat.delete", rpcInput{ChatID: id}, nil)
}

func (c *Client) rpc(ctx context.Context, proc string, in rpcInput, out any) error {
	resp, err := c.post(ctx, "/rpc/"+proc, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	env := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s result: %w", proc, err)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", proc, err)
	}
	return nil
}

// post returns the response only for 2xx; the caller closes the body.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderUserID, c.userID)
	req.Header.Set(auth.HeaderSignature, c.signature)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	logger.Debug("chat_client_request", "path", path, "status", resp.StatusCode, "elapsed", time.Since(started).String())

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeHTTPError(resp)
	}
	return resp, nil
}

func decodeHTTPError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error.Code != "" {
		msg = body.Error.Message
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		sentinel = ErrValidation
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusNotFound:
		sentinel = ErrNotFound
	default:
		return fmt.Errorf("chat api error: %s body=%s", resp.Status, msg)
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}
