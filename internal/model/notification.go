package model

import "time"

type NotificationType string

const (
	NotificationMessage       NotificationType = "message"
	NotificationFriendRequest NotificationType = "friend_request"
	NotificationFriendAccept  NotificationType = "friend_accept"
)

type Notification struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	FromUserID string           `json:"from_user_id"`
	Type       NotificationType `json:"type"`
	MessageID  *string          `json:"message_id,omitempty"`
	Body       string           `json:"body"`
	Read       bool             `json:"read"`
	CreatedAt  time.Time        `json:"created_at"`
}

// PushSubscription — подписка браузера на Web Push (endpoint + ключи клиента).
type PushSubscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}
