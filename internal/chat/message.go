package chat

import (
	"encoding/base64"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Vovarama1992/ai-chat/internal/ai"
)

var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Text returns the flat content, falling back to the first text part.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			return p.Text
		}
	}
	return ""
}

// HasContent reports whether the message carries anything worth keeping.
func (m Message) HasContent() bool {
	return m.Content != "" || len(m.Parts) > 0
}

// clone copies the part and attachment slices so the result can be
// handed out while the original keeps growing.
func (m Message) clone() Message {
	if m.Parts != nil {
		m.Parts = append([]Part(nil), m.Parts...)
	}
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return m
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}

func validateAttachment(a Attachment, maxSize int64) error {
	if strings.TrimSpace(a.URL) == "" {
		return validationf("attachment url is required")
	}
	if !supportedImageTypes[a.ContentType] {
		return validationf("unsupported attachment type %q, use JPEG, PNG or WebP", a.ContentType)
	}
	if maxSize <= 0 || !strings.HasPrefix(a.URL, "data:") {
		return nil
	}
	comma := strings.IndexByte(a.URL, ',')
	if comma < 0 {
		return validationf("malformed data url")
	}
	size := int64(base64.StdEncoding.DecodedLen(len(a.URL) - comma - 1))
	if size > maxSize {
		return validationf("attachment too large, limit is %s", humanize.Bytes(uint64(maxSize)))
	}
	return nil
}

// toAIMessages flattens a transcript into the gateway's dialogue format.
// Tool invocations without a result are dropped; the provider rejects
// calls that have no answer.
func toAIMessages(msgs []Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, ai.Message{Role: string(RoleUser), Text: m.Text(), ImageURLs: imageURLs(m.Attachments)})
		case RoleSystem:
			out = append(out, ai.Message{Role: string(RoleSystem), Text: m.Text()})
		case RoleAssistant:
			out = append(out, assistantToAI(m)...)
		case RoleTool:
			// results travel inside assistant tool-invocation parts
		}
	}
	return out
}

func assistantToAI(m Message) []ai.Message {
	if len(m.Parts) == 0 {
		if m.Content == "" {
			return nil
		}
		return []ai.Message{{Role: string(RoleAssistant), Text: m.Content}}
	}

	var out []ai.Message
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			out = append(out, ai.Message{Role: string(RoleAssistant), Text: text.String()})
			text.Reset()
		}
	}
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			text.WriteString(p.Text)
		case PartToolInvocation:
			inv := p.ToolInvocation
			if inv == nil || inv.State != ToolStateResult {
				continue
			}
			flush()
			out = append(out,
				ai.Message{Role: string(RoleAssistant), ToolCalls: []ai.ToolCall{{ID: inv.ToolCallID, Name: inv.ToolName, Args: inv.Args}}},
				ai.Message{Role: string(RoleTool), Text: string(inv.Result), ToolCallID: inv.ToolCallID},
			)
		}
	}
	flush()
	return out
}

func imageURLs(atts []Attachment) []string {
	var urls []string
	for _, a := range atts {
		if strings.HasPrefix(a.ContentType, "image/") && a.URL != "" {
			urls = append(urls, a.URL)
		}
	}
	return urls
}
