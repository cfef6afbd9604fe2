package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/snaplink/internal/middleware"
	"github.com/snaplink/internal/model"
	"github.com/snaplink/internal/repository"
)

type PushHandler struct {
	subs           *repository.PushSubscriptionRepository
	vapidPublicKey string
}

func NewPushHandler(subs *repository.PushSubscriptionRepository, vapidPublicKey string) *PushHandler {
	return &PushHandler{subs: subs, vapidPublicKey: vapidPublicKey}
}

// VAPIDPublic отдаёт публичный VAPID-ключ для подписки в браузере.
func (h *PushHandler) VAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublicKey == "" {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(h.vapidPublicKey))
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, keys.p256dh and keys.auth required")
		return
	}
	sub := &model.PushSubscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := h.subs.Save(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.subs.DeleteByEndpoint(r.Context(), req.Endpoint); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
