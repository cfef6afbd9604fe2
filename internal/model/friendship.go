package model

import "time"

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship — направленная заявка в друзья: UserID отправил заявку FriendID.
// После принятия связь считается двусторонней (поиск друзей объединяет оба направления).
type Friendship struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	FriendID  string           `json:"friend_id"`
	Status    FriendshipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// FriendRequest — входящая заявка вместе с данными отправителя.
type FriendRequest struct {
	Friendship Friendship `json:"friendship"`
	User       UserPublic `json:"user"`
}
