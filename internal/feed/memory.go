package feed

import "sync"

// Memory — Feed в памяти: события подаются вручную через Emit.
// Используется в тестах транспорта доставки.
type Memory struct {
	mu   sync.RWMutex
	subs map[*memorySub]struct{}
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[*memorySub]struct{})}
}

func (m *Memory) Subscribe(fn func(Event)) Subscription {
	s := &memorySub{feed: m, fn: fn}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	return s
}

// Emit синхронно доставляет событие всем подписчикам.
func (m *Memory) Emit(ev Event) {
	m.mu.RLock()
	targets := make([]*memorySub, 0, len(m.subs))
	for s := range m.subs {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	for _, s := range targets {
		s.fn(ev)
	}
}

type memorySub struct {
	feed *Memory
	fn   func(Event)
	once sync.Once
}

func (s *memorySub) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
	})
}
