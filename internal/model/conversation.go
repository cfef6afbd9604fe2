package model

// Conversation — производное представление переписки с одним другом:
// последнее сообщение и число непрочитанных. Не хранится в БД, вычисляется
// агрегатором по запросу. LastMessage == nil означает "сообщений ещё нет";
// такие диалоги сортируются после всех диалогов с сообщениями.
type Conversation struct {
	FriendID    string     `json:"friend_id"`
	Friend      UserPublic `json:"friend"`
	LastMessage *Message   `json:"last_message,omitempty"`
	UnreadCount int        `json:"unread_count"`
}
