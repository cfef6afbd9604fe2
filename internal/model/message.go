package model

import "time"

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindPhoto MessageKind = "photo"
	MessageKindVideo MessageKind = "video"
	MessageKindVoice MessageKind = "voice"
)

// MaxContentLength — максимальная длина текста сообщения в байтах.
// Проверяется на обеих точках входа (REST и WebSocket).
const MaxContentLength = 4000

// Message — единица переписки между двумя пользователями.
// Неизменяема после записи, кроме флага Read: он переводится false→true
// ровно один раз и только получателем, обратного перехода нет.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"kind"`
	MediaURL   string      `json:"media_url,omitempty"`
	Read       bool        `json:"read"`
	CreatedAt  time.Time   `json:"created_at"`
}

// InConversation сообщает, принадлежит ли сообщение переписке пары (a, b)
// в любом направлении.
func (m *Message) InConversation(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}
