package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInConversation(t *testing.T) {
	m := &Message{SenderID: "alice", ReceiverID: "bob"}

	assert.True(t, m.InConversation("alice", "bob"))
	assert.True(t, m.InConversation("bob", "alice"), "пара ненаправленная")
	assert.False(t, m.InConversation("alice", "carol"))
	assert.False(t, m.InConversation("carol", "dave"))
}
