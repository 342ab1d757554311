package chat

import "github.com/go-chi/chi/v5"

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/chat", h.HandleChat)
	r.Post("/save-chat", h.HandleSaveChat)
	r.Post("/rpc/{procedure}", h.HandleRPC)
}
