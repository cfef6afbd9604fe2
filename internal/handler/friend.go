package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snaplink/internal/conversation"
	"github.com/snaplink/internal/logger"
	"github.com/snaplink/internal/middleware"
	"github.com/snaplink/internal/model"
	"github.com/snaplink/internal/push"
	"github.com/snaplink/internal/repository"
)

type FriendHandler struct {
	friends *repository.FriendshipRepository
	users   *repository.UserRepository
	notifs  *repository.NotificationRepository
	agg     *conversation.Aggregator
	pusher  *push.Sender
}

func NewFriendHandler(
	friends *repository.FriendshipRepository,
	users *repository.UserRepository,
	notifs *repository.NotificationRepository,
	agg *conversation.Aggregator,
	pusher *push.Sender,
) *FriendHandler {
	return &FriendHandler{friends: friends, users: users, notifs: notifs, agg: agg, pusher: pusher}
}

func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	friends, err := h.friends.GetFriends(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get friends")
		return
	}
	writeJSON(w, http.StatusOK, friends)
}

func (h *FriendHandler) Pending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	requests, err := h.friends.GetPending(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get requests")
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

type friendRequestBody struct {
	FriendID string `json:"friend_id"`
}

// Request создаёт заявку в друзья и уведомляет адресата.
func (h *FriendHandler) Request(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req friendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.FriendID == "" || req.FriendID == userID {
		writeError(w, http.StatusBadRequest, "friend_id required")
		return
	}
	if _, err := h.users.GetByID(r.Context(), req.FriendID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	f, err := h.friends.Create(r.Context(), userID, req.FriendID)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyFriends) {
			writeError(w, http.StatusConflict, "friendship already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create request")
		return
	}

	h.notifyFriendEvent(r.Context(), req.FriendID, userID, model.NotificationFriendRequest, "sent you a friend request")
	writeJSON(w, http.StatusCreated, f)
}

// Accept принимает входящую заявку (только адресат).
func (h *FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	friendshipID := chi.URLParam(r, "friendshipId")

	f, err := h.friends.GetByID(r.Context(), friendshipID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.friends.Accept(r.Context(), friendshipID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to accept")
		return
	}

	// У обоих появился новый диалог.
	h.agg.Invalidate(userID)
	h.agg.Invalidate(f.UserID)
	h.notifyFriendEvent(r.Context(), f.UserID, userID, model.NotificationFriendAccept, "accepted your friend request")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	friendID := chi.URLParam(r, "friendId")
	if err := h.friends.Remove(r.Context(), userID, friendID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove friend")
		return
	}
	h.agg.Invalidate(userID)
	h.agg.Invalidate(friendID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// notifyFriendEvent пишет notification в базу и шлёт пуш. Ошибки только логируются:
// сам запрос дружбы уже выполнен.
func (h *FriendHandler) notifyFriendEvent(ctx context.Context, toUserID, fromUserID string, typ model.NotificationType, body string) {
	from, err := h.users.GetByID(ctx, fromUserID)
	title := "SnapLink"
	if err == nil {
		title = from.Username
	}
	n := &model.Notification{
		UserID:     toUserID,
		FromUserID: fromUserID,
		Type:       typ,
		Body:       body,
	}
	if err := h.notifs.Create(ctx, n); err != nil {
		logger.Errorf("friend notify create: %v", err)
	}
	go h.pusher.Notify(context.WithoutCancel(ctx), toUserID, title, body, map[string]string{"type": string(typ)})
}
