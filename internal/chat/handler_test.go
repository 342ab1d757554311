package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vovarama1992/ai-chat/internal/auth"
)

const testSigningKey = "test-signing-key"

type testServer struct {
	srv  *httptest.Server
	repo *PebbleRepo
	gw   *fakeGateway
}

func newTestServer(t *testing.T, gw *fakeGateway) *testServer {
	t.Helper()
	svc, repo := newTestService(t, gw, ServiceOptions{})
	h := NewHandler(svc, NewDirectory(repo))

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.Require(testSigningKey))
		RegisterRoutes(r, h)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, repo: repo, gw: gw}
}

func (ts *testServer) post(t *testing.T, user, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(auth.HeaderUserID, user)
		req.Header.Set(auth.HeaderSignature, auth.Sign(testSigningKey, user))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) client(user string) *Client {
	return NewClient(ts.srv.URL, user, testSigningKey, ts.srv.Client())
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error.Code
}

func TestHandleChatStreamsDataStream(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{deltas: textDeltas("Hi", " there")})
	id, err := ts.repo.Create(context.Background(), "alice")
	require.NoError(t, err)

	resp := ts.post(t, "alice", "/chat", `{"id":"`+id+`","message":{"id":"msgc-1","role":"user","content":"Hello"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v1", resp.Header.Get("X-Vercel-AI-Data-Stream"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], `f:{"messageId":"msgs-`))
	assert.Equal(t, `0:"Hi"`, lines[1])
	assert.Equal(t, `0:" there"`, lines[2])
	assert.Equal(t, `d:{"finishReason":"stop"}`, lines[3])

	assert.Equal(t, "Hi there", storedMessages(t, ts.repo, id)[1].Content)
}

func TestHandleChatRejects(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{deltas: textDeltas("x")})
	id, err := ts.repo.Create(context.Background(), "alice")
	require.NoError(t, err)

	cases := []struct {
		name   string
		user   string
		body   string
		status int
		code   string
	}{
		{"bad json", "alice", `{`, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing id", "alice", `{"message":{"content":"hi"}}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing message", "alice", `{"id":"` + id + `"}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"bad attachment", "alice", `{"id":"` + id + `","message":{"content":"hi"},"attachmentData":{"contentType":"application/pdf","url":"x"}}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"not owner", "mallory", `{"id":"` + id + `","message":{"content":"hi"}}`, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown chat", "alice", `{"id":"ghost","message":{"content":"hi"}}`, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unsigned", "", `{"id":"` + id + `","message":{"content":"hi"}}`, http.StatusUnauthorized, "UNAUTHORIZED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.post(t, tc.user, "/chat", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, decodeError(t, resp))
		})
	}
	assert.Empty(t, storedMessages(t, ts.repo, id))
}

func TestHandleSaveChat(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{})
	id, err := ts.repo.Create(context.Background(), "alice")
	require.NoError(t, err)

	resp := ts.post(t, "alice", "/save-chat", `{"id":"`+id+`","messages":[{"id":"m1","role":"user","content":"a"},{"id":"m3","role":"user","content":"c"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ok map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ok))
	assert.True(t, ok["success"])
	assert.Equal(t, []string{"m1", "m3"}, ids(storedMessages(t, ts.repo, id)))

	resp = ts.post(t, "alice", "/save-chat", `{"id":"`+id+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.post(t, "mallory", "/save-chat", `{"id":"`+id+`","messages":[]}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.post(t, "alice", "/save-chat", `{"id":"ghost","messages":[]}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", decodeError(t, resp))
}

func TestHandleRPC(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{})

	resp := ts.post(t, "alice", "/rpc/chat.create", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created struct {
		Result struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	id := created.Result.ID
	require.NotEmpty(t, id)

	resp = ts.post(t, "alice", "/rpc/chat.rename", `{"chatId":"`+id+`","name":"Trip"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.post(t, "mallory", "/rpc/chat.get", `{"chatId":"`+id+`"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, resp))

	resp = ts.post(t, "alice", "/rpc/chat.get", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.post(t, "alice", "/rpc/chat.nope", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp))

	resp = ts.post(t, "alice", "/rpc/chat.list", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Result []Summary `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed.Result, 1)
	assert.Equal(t, "Trip", listed.Result[0].Name)

	resp = ts.post(t, "alice", "/rpc/chat.delete", `{"chatId":"`+id+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.post(t, "alice", "/rpc/chat.delete", `{"chatId":"`+id+`"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClientDirectoryAndTurn(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{deltas: textDeltas("Hi", " there")})
	c := ts.client("alice")
	ctx := context.Background()

	id, err := c.CreateChat(ctx)
	require.NoError(t, err)
	require.NoError(t, c.RenameChat(ctx, id, "Greetings"))

	var frags []Fragment
	msg := textMsg("msgc-1", RoleUser, "Hello")
	err = c.StreamTurn(ctx, TurnInput{ConversationID: id, Message: msg, History: []Message{msg}}, func(f Fragment) {
		frags = append(frags, f)
	})
	require.NoError(t, err)
	require.Len(t, frags, 4)

	conv, err := c.GetChat(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Greetings", conv.Name)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hi there", conv.Messages[1].Content)

	list, err := c.ListChats(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = ts.client("mallory").GetChat(ctx, id)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, c.SaveChat(ctx, id, RemoveMessage(conv.Messages, conv.Messages[1].ID)))
	require.NoError(t, c.DeleteChat(ctx, id))
	assert.ErrorIs(t, c.DeleteChat(ctx, id), ErrUnauthorized)
}

func TestClientStreamTurnSurfacesErrorLine(t *testing.T) {
	gw := &fakeGateway{failWith: assert.AnError}
	ts := newTestServer(t, gw)
	c := ts.client("alice")
	id, err := c.CreateChat(context.Background())
	require.NoError(t, err)

	msg := textMsg("msgc-1", RoleUser, "Hello")
	err = c.StreamTurn(context.Background(), TurnInput{ConversationID: id, Message: msg}, nil)
	assert.ErrorIs(t, err, ErrGateway)
	assert.Contains(t, err.Error(), assert.AnError.Error())
}
