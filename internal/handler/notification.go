package handler

import (
	"net/http"

	"github.com/snaplink/internal/middleware"
	"github.com/snaplink/internal/repository"
)

type NotificationHandler struct {
	notifs *repository.NotificationRepository
}

func NewNotificationHandler(notifs *repository.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{notifs: notifs}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit := queryInt(r, "limit", 50)
	if limit > 100 {
		limit = 100
	}
	items, err := h.notifs.ListForUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get notifications")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.notifs.MarkAllRead(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
