package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Vovarama1992/ai-chat/internal/logger"
)

type OpenAIOptions struct {
	APIKey        string
	BaseURL       string
	DefaultModel  string
	AllowedModels []string
	MaxSteps      int
	Tools         Toolset
}

type OpenAIClient struct {
	client   *openai.Client
	model    string
	allowed  []string
	maxSteps int
	tools    Toolset
}

func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	model := opts.DefaultModel
	if model == "" {
		model = openai.GPT4o
	}
	steps := opts.MaxSteps
	if steps < 1 {
		steps = 1
	}

	return &OpenAIClient{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		allowed:  opts.AllowedModels,
		maxSteps: steps,
		tools:    opts.Tools,
	}
}

func (c *OpenAIClient) ResolveModel(requested string) string {
	model := ResolveModel(requested, c.model, c.allowed)
	if requested != "" && model != requested {
		logger.Debug("ai_model_fallback", "requested", requested, "model", model)
	}
	return model
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Stream, error) {
	s := &openAIStream{
		ctx:      ctx,
		client:   c.client,
		tools:    c.tools,
		maxSteps: c.maxSteps,
		req: openai.ChatCompletionRequest{
			Model:    c.ResolveModel(req.Model),
			Messages: toOpenAIMessages(req.System, req.Messages),
			Tools:    c.tools.definitions(),
		},
	}
	// open the first step eagerly so connection errors surface here
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// openAIStream runs up to maxSteps completion requests, executing tool
// calls between them, and flattens everything into one delta sequence.
type openAIStream struct {
	ctx      context.Context
	client   *openai.Client
	tools    Toolset
	maxSteps int
	req      openai.ChatCompletionRequest

	cur     *openai.ChatCompletionStream
	step    int
	calls   map[int]*openai.ToolCall
	finish  string
	pending []Delta
	done    bool
}

func (s *openAIStream) open() error {
	cur, err := s.client.CreateChatCompletionStream(s.ctx, s.req)
	if err != nil {
		logger.Error("ai_stream_open_failed", "model", s.req.Model, "step", s.step, "err", err)
		return err
	}
	s.cur = cur
	s.calls = make(map[int]*openai.ToolCall)
	s.finish = ""
	return nil
}

func (s *openAIStream) Recv() (Delta, error) {
	for {
		if len(s.pending) > 0 {
			d := s.pending[0]
			s.pending = s.pending[1:]
			return d, nil
		}
		if s.done {
			return Delta{}, io.EOF
		}
		if s.cur == nil {
			if err := s.open(); err != nil {
				return Delta{}, err
			}
		}

		resp, err := s.cur.Recv()
		if errors.Is(err, io.EOF) {
			s.cur.Close()
			s.cur = nil
			s.endStep()
			continue
		}
		if err != nil {
			return Delta{}, err
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		for _, tc := range choice.Delta.ToolCalls {
			s.accumulate(tc)
		}
		if choice.FinishReason != "" {
			s.finish = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			return Delta{Text: choice.Delta.Content}, nil
		}
	}
}

func (s *openAIStream) Close() error {
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
	s.done = true
	return nil
}

// tool call arguments arrive split across chunks, keyed by index
func (s *openAIStream) accumulate(tc openai.ToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	acc, ok := s.calls[idx]
	if !ok {
		acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
		s.calls[idx] = acc
	}
	if tc.ID != "" {
		acc.ID = tc.ID
	}
	if tc.Function.Name != "" {
		acc.Function.Name = tc.Function.Name
	}
	acc.Function.Arguments += tc.Function.Arguments
}

func (s *openAIStream) endStep() {
	if len(s.calls) == 0 {
		finish := s.finish
		if finish == "" {
			finish = string(openai.FinishReasonStop)
		}
		s.pending = append(s.pending, Delta{FinishReason: finish})
		s.done = true
		return
	}

	idxs := make([]int, 0, len(s.calls))
	for i := range s.calls {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)

	assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
	var results []openai.ChatCompletionMessage
	for _, i := range idxs {
		tc := *s.calls[i]
		assistant.ToolCalls = append(assistant.ToolCalls, tc)

		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		call := ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args}
		result := s.tools.run(s.ctx, call)
		logger.Debug("ai_tool_call", "tool", call.Name, "call_id", call.ID)

		s.pending = append(s.pending,
			Delta{ToolCall: &call},
			Delta{ToolResult: &ToolResult{CallID: call.ID, Name: call.Name, Result: result}},
		)
		results = append(results, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    string(result),
			ToolCallID: tc.ID,
		})
	}

	s.step++
	if s.step >= s.maxSteps {
		s.pending = append(s.pending, Delta{FinishReason: string(openai.FinishReasonToolCalls)})
		s.done = true
		return
	}
	s.req.Messages = append(s.req.Messages, assistant)
	s.req.Messages = append(s.req.Messages, results...)
}

func toOpenAIMessages(system string, history []Message) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, m := range history {
		om := openai.ChatCompletionMessage{Role: m.Role, ToolCallID: m.ToolCallID}
		if len(m.ImageURLs) > 0 && m.Role == openai.ChatMessageRoleUser {
			parts := make([]openai.ChatMessagePart, 0, len(m.ImageURLs)+1)
			if m.Text != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Text})
			}
			for _, u := range m.ImageURLs {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: u, Detail: openai.ImageURLDetailAuto},
				})
			}
			om.MultiContent = parts
		} else {
			om.Content = m.Text
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:       tc.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: tc.Name, Arguments: string(tc.Args)},
			})
		}
		msgs = append(msgs, om)
	}
	return msgs
}
