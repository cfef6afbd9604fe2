package memory

import (
	"context"
	"sync"

	"github.com/snaplink/internal/broker"
)

// Client — broker.Broker в памяти процесса: доставка синхронная, внутри
// одного процесса. Используется в режиме -dev (без Redis) и в тестах.
type Client struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

func New() *Client {
	return &Client{subs: make(map[string]map[*subscription]struct{})}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.subs = make(map[string]map[*subscription]struct{})
	return nil
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	targets := make([]*subscription, 0, len(c.subs[topic]))
	for s := range c.subs[topic] {
		targets = append(targets, s)
	}
	c.mu.RUnlock()

	// fn вызывается вне блокировки: подписчик может публиковать из callback.
	for _, s := range targets {
		s.fn(payload)
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (broker.Subscription, error) {
	s := &subscription{client: c, topic: topic, fn: fn}
	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[*subscription]struct{})
	}
	c.subs[topic][s] = struct{}{}
	c.mu.Unlock()
	return s, nil
}

type subscription struct {
	client *Client
	topic  string
	fn     func([]byte)
	once   sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.client.mu.Lock()
		defer s.client.mu.Unlock()
		if subs, ok := s.client.subs[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.client.subs, s.topic)
			}
		}
	})
}
