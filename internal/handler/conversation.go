package handler

import (
	"net/http"

	"github.com/snaplink/internal/conversation"
	"github.com/snaplink/internal/middleware"
)

type ConversationHandler struct {
	agg *conversation.Aggregator
}

func NewConversationHandler(agg *conversation.Aggregator) *ConversationHandler {
	return &ConversationHandler{agg: agg}
}

// List возвращает все диалоги пользователя, отсортированные по свежести.
// ?refresh=1 принудительно пересобирает список мимо кэша (pull-to-refresh).
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	force := r.URL.Query().Get("refresh") == "1"

	convs, err := h.agg.List(r.Context(), userID, force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get conversations")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}
