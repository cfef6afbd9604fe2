package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/snaplink/internal/broker"
	"github.com/snaplink/internal/logger"
)

// Client реализует broker.Broker поверх Redis pub/sub.
type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := c.cli.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (broker.Subscription, error) {
	ps := c.cli.Subscribe(ctx, topic)
	// Receive подтверждает подписку до возврата — иначе ранние публикации теряются чаще необходимого.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	sub := &subscription{ps: ps}
	go func() {
		for msg := range ps.Channel() {
			fn([]byte(msg.Payload))
		}
		logger.Debugf("broker: подписка %s закрыта", topic)
	}()
	return sub, nil
}

type subscription struct {
	ps   *redis.PubSub
	once sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		if err := s.ps.Close(); err != nil {
			logger.Errorf("broker: close subscription: %v", err)
		}
	})
}
