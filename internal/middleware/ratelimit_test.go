package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)

	assert.True(t, rl.allow("k"))
	assert.True(t, rl.allow("k"))
	assert.True(t, rl.allow("k"))
	assert.False(t, rl.allow("k"), "лимит исчерпан")
	assert.True(t, rl.allow("other"), "другой ключ считается отдельно")
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := newRateLimiter(2, 30*time.Millisecond)

	assert.True(t, rl.allow("k"))
	assert.True(t, rl.allow("k"))
	assert.False(t, rl.allow("k"))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, rl.allow("k"), "после окна счётчик очищается")
}
