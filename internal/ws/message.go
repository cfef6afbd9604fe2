package ws

import (
	"github.com/snaplink/internal/model"
)

type EventType string

const (
	// Клиент → сервер
	EventConversationOpen  EventType = "conversation_open"
	EventConversationClose EventType = "conversation_close"
	EventTyping            EventType = "typing"
	EventNewMessage        EventType = "message"
	EventRead              EventType = "read"

	// Сервер → клиент
	EventMessageSent EventType = "message_sent"
	EventMessageRead EventType = "message_read"
	EventTypingState EventType = "typing_state"
	EventError       EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type     EventType `json:"type"`
	FriendID string    `json:"friend_id,omitempty"`

	// For message
	Content  string            `json:"content,omitempty"`
	Kind     model.MessageKind `json:"kind,omitempty"`
	MediaURL string            `json:"media_url,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TypingStatePayload is sent when the peer's typing indicator should change.
type TypingStatePayload struct {
	FriendID string `json:"friend_id"`
	Typing   bool   `json:"typing"`
}

// MessageReadPayload is sent when the peer has read a message we sent.
type MessageReadPayload struct {
	FriendID  string `json:"friend_id"`
	MessageID string `json:"message_id"`
}

// TypingSignal — полезная нагрузка typing-топика брокера (между инстансами).
type TypingSignal struct {
	UserID   string `json:"user_id"`
	FriendID string `json:"friend_id"`
	Typing   bool   `json:"typing"`
}
