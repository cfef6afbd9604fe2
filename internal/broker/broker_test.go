package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "instant:alice:bob", InstantTopic("alice", "bob"))
	assert.Equal(t, "typing:bob:alice", TypingTopic("bob", "alice"))
	// Топики направленные: обратное направление — другой топик.
	assert.NotEqual(t, InstantTopic("alice", "bob"), InstantTopic("bob", "alice"))
}
