package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snaplink/internal/conversation"
	"github.com/snaplink/internal/delivery"
	"github.com/snaplink/internal/logger"
	"github.com/snaplink/internal/middleware"
	"github.com/snaplink/internal/model"
	"github.com/snaplink/internal/repository"
)

type MessageHandler struct {
	msgRepo    *repository.MessageRepository
	friendRepo *repository.FriendshipRepository
	transport  *delivery.Transport
	agg        *conversation.Aggregator
}

func NewMessageHandler(
	msgRepo *repository.MessageRepository,
	friendRepo *repository.FriendshipRepository,
	transport *delivery.Transport,
	agg *conversation.Aggregator,
) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, friendRepo: friendRepo, transport: transport, agg: agg}
}

// GetConversation возвращает историю переписки с другом (хронологический порядок).
func (h *MessageHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	friendID := chi.URLParam(r, "friendId")

	ok, err := h.friendRepo.AreFriends(r.Context(), userID, friendID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check friendship")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not friends")
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	messages, err := h.msgRepo.GetConversation(r.Context(), userID, friendID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Content  string            `json:"content"`
	Kind     model.MessageKind `json:"kind"`
	MediaURL string            `json:"media_url"`
}

// Send сохраняет и рассылает сообщение. Тот же путь, что и по WebSocket:
// durable-запись первой, fast-path как best-effort.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	friendID := chi.URLParam(r, "friendId")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Content == "" && req.MediaURL == "" {
		writeError(w, http.StatusBadRequest, "content or media_url required")
		return
	}
	if len(req.Content) > model.MaxContentLength {
		writeError(w, http.StatusBadRequest, "content too long")
		return
	}

	ok, err := h.friendRepo.AreFriends(r.Context(), userID, friendID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check friendship")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not friends")
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = model.MessageKindText
	}
	m := &model.Message{
		SenderID:   userID,
		ReceiverID: friendID,
		Content:    req.Content,
		Kind:       kind,
		MediaURL:   req.MediaURL,
	}
	if err := h.transport.Send(r.Context(), m); err != nil {
		logger.Errorf("rest send message user=%s friend=%s: %v", userID, friendID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// MarkRead помечает прочитанными все входящие от друга.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	friendID := chi.URLParam(r, "friendId")

	n, err := h.msgRepo.MarkAsRead(r.Context(), userID, friendID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark as read")
		return
	}
	if n > 0 {
		h.agg.Invalidate(userID)
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

// UnreadCount возвращает число непрочитанных от конкретного друга.
func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	friendID := chi.URLParam(r, "friendId")

	count, err := h.msgRepo.CountUnread(r.Context(), userID, friendID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count unread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}
