package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	var got []string
	sub, err := c.Subscribe(ctx, "t1", func(payload []byte) {
		got = append(got, string(payload))
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, c.Publish(ctx, "t1", []byte("hello")))
	require.NoError(t, c.Publish(ctx, "t2", []byte("other"))) // другой топик

	assert.Equal(t, []string{"hello"}, got)
}

func TestSubscriptionClose(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	var count int
	sub, err := c.Subscribe(ctx, "t1", func([]byte) { count++ })
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "t1", []byte("a")))
	sub.Close()
	sub.Close() // идемпотентен
	require.NoError(t, c.Publish(ctx, "t1", []byte("b")))

	assert.Equal(t, 1, count)
}

func TestMultipleSubscribers(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	var a, b int
	subA, err := c.Subscribe(ctx, "t", func([]byte) { a++ })
	require.NoError(t, err)
	defer subA.Close()
	subB, err := c.Subscribe(ctx, "t", func([]byte) { b++ })
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, c.Publish(ctx, "t", []byte("x")))
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestPublishFromCallback(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	var got []string
	sub, err := c.Subscribe(ctx, "reply", func(payload []byte) {
		got = append(got, string(payload))
	})
	require.NoError(t, err)
	defer sub.Close()

	// Публикация из callback не должна взять блокировку повторно.
	echo, err := c.Subscribe(ctx, "ping", func([]byte) {
		_ = c.Publish(ctx, "reply", []byte("pong"))
	})
	require.NoError(t, err)
	defer echo.Close()

	require.NoError(t, c.Publish(ctx, "ping", []byte("ping")))
	assert.Equal(t, []string{"pong"}, got)
}
