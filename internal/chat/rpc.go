package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Vovarama1992/ai-chat/internal/auth"
)

type rpcInput struct {
	ChatID string `json:"chatId"`
	Name   string `json:"name"`
}

type rpcResult struct {
	Result any `json:"result"`
}

// HandleRPC dispatches POST /rpc/{procedure}. The body is the procedure
// input; an empty body is allowed for procedures that take none.
func (h *Handler) HandleRPC(w http.ResponseWriter, r *http.Request) {
	proc := chi.URLParam(r, "procedure")
	userID := auth.UserID(r.Context())

	var in rpcInput
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json")
		return
	}

	var (
		out any
		err error
	)
	switch proc {
	case "chat.create":
		var id string
		id, err = h.dir.Create(r.Context(), userID)
		out = map[string]string{"id": id}
	case "chat.list":
		out, err = h.dir.List(r.Context(), userID)
	case "chat.get":
		if in.ChatID == "" {
			err = validationf("chatId is required")
			break
		}
		out, err = h.dir.Get(r.Context(), userID, in.ChatID)
	case "chat.rename":
		if in.ChatID == "" {
			err = validationf("chatId is required")
			break
		}
		err = h.dir.Rename(r.Context(), userID, in.ChatID, in.Name)
		out = map[string]bool{"success": true}
	case "chat.delete":
		if in.ChatID == "" {
			err = validationf("chatId is required")
			break
		}
		err = h.dir.Delete(r.Context(), userID, in.ChatID)
		out = map[string]bool{"success": true}
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown procedure "+proc)
		return
	}

	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpcResult{Result: out})
}
