package chat

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMsg(id string, role Role, text string) Message {
	return Message{ID: id, Role: role, Content: text, Parts: []Part{{Type: PartText, Text: text}}}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestAssembleSubmissionAppends(t *testing.T) {
	history := []Message{textMsg("u1", RoleUser, "a"), textMsg("s1", RoleAssistant, "b")}
	got := AssembleSubmission(history, textMsg("u2", RoleUser, "c"))

	assert.Equal(t, []string{"u1", "s1", "u2"}, ids(got))
	assert.Len(t, history, 2, "input must not grow")
}

func TestAssembleSubmissionReplacesRetriedTail(t *testing.T) {
	history := []Message{textMsg("u1", RoleUser, "a"), textMsg("u2", RoleUser, "old")}
	got := AssembleSubmission(history, textMsg("u2", RoleUser, "new"))

	require.Len(t, got, 2)
	assert.Equal(t, "new", got[1].Content)
	assert.Equal(t, "old", history[1].Content)
}

func TestAssemblePersistKeepsUserTurnWithoutReply(t *testing.T) {
	toSend := []Message{textMsg("u1", RoleUser, "Hello")}

	assert.Equal(t, []string{"u1"}, ids(AssemblePersist(toSend, nil)))
	assert.Equal(t, []string{"u1"}, ids(AssemblePersist(toSend, &Message{ID: "s1", Role: RoleAssistant})))

	reply := textMsg("s1", RoleAssistant, "Hi")
	assert.Equal(t, []string{"u1", "s1"}, ids(AssemblePersist(toSend, &reply)))
}

func TestRemoveMessageIsPureSubtraction(t *testing.T) {
	l := []Message{
		textMsg("u1", RoleUser, "one"),
		textMsg("s1", RoleAssistant, "two"),
		textMsg("u2", RoleUser, "three"),
	}

	got := RemoveMessage(l, "s1")
	assert.Equal(t, []string{"u1", "u2"}, ids(got))
	assert.Equal(t, []string{"u1", "s1", "u2"}, ids(l))

	assert.Equal(t, ids(l), ids(RemoveMessage(l, "missing")))
}

func TestIDNamespacesDisjoint(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c := ClientIDs.New()
		s := ServerIDs.New()
		assert.True(t, strings.HasPrefix(c, "msgc-"))
		assert.True(t, strings.HasPrefix(s, "msgs-"))
		assert.Len(t, c, len("msgc-")+16)
		assert.NotEqual(t, c, s)
		assert.False(t, seen[c])
		seen[c] = true
	}

	// identical random tails still differ by prefix
	tail := "AAAAAAAAAAAAAAAA"
	assert.NotEqual(t, ClientIDs.Prefix+"-"+tail, ServerIDs.Prefix+"-"+tail)
}

func TestApplyFragmentBuildsReply(t *testing.T) {
	var m Message
	ApplyFragment(&m, Fragment{Kind: FragmentStart, MessageID: "msgs-1"})
	ApplyFragment(&m, Fragment{Kind: FragmentText, Text: "Let me check. "})
	ApplyFragment(&m, Fragment{Kind: FragmentToolCall, ToolCallID: "c1", ToolName: "weather", Args: json.RawMessage(`{"location":"Oslo"}`)})

	before := m.clone()
	ApplyFragment(&m, Fragment{Kind: FragmentToolResult, ToolCallID: "c1", Result: json.RawMessage(`{"temperature":40}`)})
	ApplyFragment(&m, Fragment{Kind: FragmentText, Text: "It is 40F."})
	ApplyFragment(&m, Fragment{Kind: FragmentFinish, FinishReason: "stop"})

	assert.Equal(t, "msgs-1", m.ID)
	assert.Equal(t, "Let me check. It is 40F.", m.Content)
	require.Len(t, m.Parts, 3)
	assert.Equal(t, PartText, m.Parts[0].Type)
	require.NotNil(t, m.Parts[1].ToolInvocation)
	assert.Equal(t, ToolStateResult, m.Parts[1].ToolInvocation.State)
	assert.JSONEq(t, `{"temperature":40}`, string(m.Parts[1].ToolInvocation.Result))
	assert.Equal(t, "It is 40F.", m.Parts[2].Text)

	// an earlier copy keeps the call state
	assert.Equal(t, ToolStateCall, before.Parts[1].ToolInvocation.State)
}

func TestMessageText(t *testing.T) {
	assert.Equal(t, "flat", Message{Content: "flat"}.Text())
	assert.Equal(t, "from part", Message{Parts: []Part{
		{Type: PartToolInvocation, ToolInvocation: &ToolInvocation{}},
		{Type: PartText, Text: "from part"},
	}}.Text())
	assert.Equal(t, "", Message{}.Text())
}

func TestToAIMessagesExpandsToolParts(t *testing.T) {
	msgs := []Message{
		textMsg("u1", RoleUser, "weather?"),
		{ID: "s1", Role: RoleAssistant, Parts: []Part{
			{Type: PartToolInvocation, ToolInvocation: &ToolInvocation{State: ToolStateResult, ToolCallID: "c1", ToolName: "weather", Args: json.RawMessage(`{}`), Result: json.RawMessage(`{"t":1}`)}},
			{Type: PartToolInvocation, ToolInvocation: &ToolInvocation{State: ToolStateCall, ToolCallID: "c2", ToolName: "weather"}},
			{Type: PartText, Text: "Done"},
		}},
	}

	out := toAIMessages(msgs)
	require.Len(t, out, 4)
	assert.Equal(t, "user", out[0].Role)
	require.Len(t, out[1].ToolCalls, 1)
	assert.Equal(t, "c1", out[1].ToolCalls[0].ID)
	assert.Equal(t, "tool", out[2].Role)
	assert.Equal(t, "c1", out[2].ToolCallID)
	assert.Equal(t, "Done", out[3].Text)
}

func TestValidateAttachment(t *testing.T) {
	ok := Attachment{Name: "a.png", ContentType: "image/png", URL: "data:image/png;base64,AAAA"}
	assert.NoError(t, validateAttachment(ok, 1024))

	err := validateAttachment(Attachment{ContentType: "image/gif", URL: "x"}, 1024)
	assert.ErrorIs(t, err, ErrValidation)

	big := Attachment{ContentType: "image/jpeg", URL: "data:image/jpeg;base64," + strings.Repeat("A", 4000)}
	err = validateAttachment(big, 1000)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "1.0 kB")
}
