package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/services"
)

type ChatHandler struct {
	chat   *services.ChatService
	logger *log.Logger
}

func NewChatHandler(chat *services.ChatService, logger *log.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

// Query handles GET /chat?message=&chatId=.
func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ans, err := h.chat.Answer(r.Context(), q.Get("message"), q.Get("chatId"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to process chat request")
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// Stream handles GET /chat/stream?message=&chatId= as server-sent events.
// Missing or blank parameters are rejected with a plain 400 before the
// stream opens.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	message, chatID := q.Get("message"), q.Get("chatId")
	if strings.TrimSpace(chatID) == "" {
		writeServiceError(w, h.logger, services.ErrNoSessionID, "")
		return
	}
	if strings.TrimSpace(message) == "" {
		writeServiceError(w, h.logger, services.ErrNoQuery, "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for ev := range h.chat.StreamAnswer(r.Context(), message, chatID) {
		frame, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to encode chat event")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			// client went away; StreamAnswer stops once the request context ends
			continue
		}
		_ = rc.Flush()
	}
}
