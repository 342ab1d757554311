package chat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type FragmentKind string

const (
	FragmentStart      FragmentKind = "start"
	FragmentText       FragmentKind = "text"
	FragmentToolCall   FragmentKind = "tool-call"
	FragmentToolResult FragmentKind = "tool-result"
	FragmentError      FragmentKind = "error"
	FragmentFinish     FragmentKind = "finish"
)

// Fragment is one unit of a streamed reply.
type Fragment struct {
	Kind         FragmentKind
	MessageID    string
	Text         string
	ToolCallID   string
	ToolName     string
	Args         json.RawMessage
	Result       json.RawMessage
	FinishReason string
}

// Wire codes of the data stream: one "<code>:<json>\n" line per fragment.
var fragmentCodes = map[FragmentKind]byte{
	FragmentStart:      'f',
	FragmentText:       '0',
	FragmentToolCall:   '9',
	FragmentToolResult: 'a',
	FragmentError:      '3',
	FragmentFinish:     'd',
}

type startPayload struct {
	MessageID string `json:"messageId"`
}

type toolCallPayload struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

type toolResultPayload struct {
	ToolCallID string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
}

type finishPayload struct {
	FinishReason string `json:"finishReason"`
}

func EncodeFragment(f Fragment) ([]byte, error) {
	code, ok := fragmentCodes[f.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown fragment kind %q", f.Kind)
	}

	var body any
	switch f.Kind {
	case FragmentStart:
		body = startPayload{MessageID: f.MessageID}
	case FragmentText, FragmentError:
		body = f.Text
	case FragmentToolCall:
		body = toolCallPayload{ToolCallID: f.ToolCallID, ToolName: f.ToolName, Args: rawOrEmpty(f.Args)}
	case FragmentToolResult:
		body = toolResultPayload{ToolCallID: f.ToolCallID, Result: rawOrEmpty(f.Result)}
	case FragmentFinish:
		body = finishPayload{FinishReason: f.FinishReason}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	line := make([]byte, 0, len(b)+3)
	line = append(line, code, ':')
	line = append(line, b...)
	return append(line, '\n'), nil
}

func DecodeFragment(line []byte) (Fragment, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) < 2 || line[1] != ':' {
		return Fragment{}, fmt.Errorf("malformed stream line %q", line)
	}
	payload := line[2:]

	var f Fragment
	var err error
	switch line[0] {
	case 'f':
		var p startPayload
		err = json.Unmarshal(payload, &p)
		f = Fragment{Kind: FragmentStart, MessageID: p.MessageID}
	case '0':
		f.Kind = FragmentText
		err = json.Unmarshal(payload, &f.Text)
	case '3':
		f.Kind = FragmentError
		err = json.Unmarshal(payload, &f.Text)
	case '9':
		var p toolCallPayload
		err = json.Unmarshal(payload, &p)
		f = Fragment{Kind: FragmentToolCall, ToolCallID: p.ToolCallID, ToolName: p.ToolName, Args: p.Args}
	case 'a':
		var p toolResultPayload
		err = json.Unmarshal(payload, &p)
		f = Fragment{Kind: FragmentToolResult, ToolCallID: p.ToolCallID, Result: p.Result}
	case 'd':
		var p finishPayload
		err = json.Unmarshal(payload, &p)
		f = Fragment{Kind: FragmentFinish, FinishReason: p.FinishReason}
	default:
		return Fragment{}, fmt.Errorf("unknown stream code %q", line[0])
	}
	if err != nil {
		return Fragment{}, fmt.Errorf("decode %c fragment: %w", line[0], err)
	}
	return f, nil
}

func rawOrEmpty(r json.RawMessage) json.RawMessage {
	if len(r) == 0 {
		return json.RawMessage(`{}`)
	}
	return r
}

// StreamWriter writes fragments to an HTTP response, flushing each line.
type StreamWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func NewStreamWriter(w http.ResponseWriter) *StreamWriter {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Vercel-AI-Data-Stream", "v1")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	f, _ := w.(http.Flusher)
	return &StreamWriter{w: w, f: f}
}

func (s *StreamWriter) Write(f Fragment) error {
	line, err := EncodeFragment(f)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(line); err != nil {
		return err
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

// StreamReader decodes a data stream line by line.
type StreamReader struct {
	sc *bufio.Scanner
}

func NewStreamReader(r io.Reader) *StreamReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	return &StreamReader{sc: sc}
}

// Next returns io.EOF once the stream is exhausted.
func (s *StreamReader) Next() (Fragment, error) {
	for s.sc.Scan() {
		line := s.sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return DecodeFragment(line)
	}
	if err := s.sc.Err(); err != nil {
		return Fragment{}, err
	}
	return Fragment{}, io.EOF
}
