package chat

// AssembleSubmission builds the list sent to the model: history plus the
// new user message. When history already ends with a message of the same
// id (a retried turn) that entry is replaced instead of duplicated.
func AssembleSubmission(history []Message, msg Message) []Message {
	out := make([]Message, 0, len(history)+1)
	out = append(out, history...)
	if n := len(out); n > 0 && out[n-1].ID == msg.ID {
		out[n-1] = msg
		return out
	}
	return append(out, msg)
}

// AssemblePersist builds the list written after a turn ends, whatever the
// outcome. The reply is kept only if it carries content, so a failed
// generation still persists the user's turn.
func AssemblePersist(toSend []Message, reply *Message) []Message {
	out := make([]Message, 0, len(toSend)+1)
	out = append(out, toSend...)
	if reply != nil && reply.HasContent() {
		out = append(out, *reply)
	}
	return out
}

// RemoveMessage returns msgs without the message whose id matches,
// keeping the relative order of the rest. The input is not modified.
func RemoveMessage(msgs []Message, id string) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == id {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ApplyFragment folds one streamed fragment into the reply under
// construction.
func ApplyFragment(m *Message, f Fragment) {
	switch f.Kind {
	case FragmentStart:
		if f.MessageID != "" {
			m.ID = f.MessageID
		}
	case FragmentText:
		if f.Text == "" {
			return
		}
		m.Content += f.Text
		if n := len(m.Parts); n > 0 && m.Parts[n-1].Type == PartText {
			m.Parts[n-1].Text += f.Text
			return
		}
		m.Parts = append(m.Parts, Part{Type: PartText, Text: f.Text})
	case FragmentToolCall:
		m.Parts = append(m.Parts, Part{
			Type: PartToolInvocation,
			ToolInvocation: &ToolInvocation{
				State:      ToolStateCall,
				ToolCallID: f.ToolCallID,
				ToolName:   f.ToolName,
				Args:       f.Args,
			},
		})
	case FragmentToolResult:
		for i := range m.Parts {
			inv := m.Parts[i].ToolInvocation
			if m.Parts[i].Type != PartToolInvocation || inv == nil || inv.ToolCallID != f.ToolCallID {
				continue
			}
			// copy so snapshots handed out earlier stay unchanged
			updated := *inv
			updated.State = ToolStateResult
			updated.Result = f.Result
			m.Parts[i].ToolInvocation = &updated
			return
		}
	case FragmentError, FragmentFinish:
	}
}
