package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Vovarama1992/ai-chat/internal/auth"
	"github.com/Vovarama1992/ai-chat/internal/logger"
)

// request bodies carry base64 images, so allow some headroom over the
// attachment limit itself
const bodyOverhead = 1 << 20

type Handler struct {
	svc     *Service
	dir     *Directory
	maxBody int64
}

func NewHandler(svc *Service, dir *Directory) *Handler {
	limit := svc.opts.MaxAttachmentSize
	if limit <= 0 {
		limit = 10 << 20
	}
	// base64 inflates by 4/3
	return &Handler{svc: svc, dir: dir, maxBody: limit*4/3 + bodyOverhead}
}

type chatPayload struct {
	ID             string      `json:"id"`
	Message        *Message    `json:"message"`
	Messages       []Message   `json:"messages"`
	SelectedModel  string      `json:"selectedModel"`
	AttachmentData *Attachment `json:"attachmentData"`
}

// HandleChat runs one turn and streams the reply as data stream lines.
// Everything that can fail before the first byte is answered with a plain
// JSON error; after that, failures travel in-band as an error line.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json")
		return
	}
	if payload.ID == "" || payload.Message == nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "missing id or message")
		return
	}

	turn, err := h.svc.Prepare(r.Context(), TurnRequest{
		ConversationID: payload.ID,
		UserID:         auth.UserID(r.Context()),
		Message:        *payload.Message,
		History:        payload.Messages,
		Model:          payload.SelectedModel,
		Attachment:     payload.AttachmentData,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	sw := NewStreamWriter(w)
	turn.Run(r.Context(), sw.Write)
}

type savePayload struct {
	ID        string     `json:"id"`
	Messages  []Message  `json:"messages"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

func (h *Handler) HandleSaveChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var payload savePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json")
		return
	}

	err := h.svc.SaveChat(r.Context(), SaveRequest{
		ConversationID:    payload.ID,
		UserID:            auth.UserID(r.Context()),
		Messages:          payload.Messages,
		ObservedUpdatedAt: payload.UpdatedAt,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("http_write_failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = msg
	writeJSON(w, status, body)
}

// writeServiceError maps domain errors onto status codes. Store details
// stay in the logs.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "conversation not found or not owned by caller")
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
	}
}
