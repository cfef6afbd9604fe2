// Package conversation — агрегатор списка диалогов: для каждого друга
// последнее сообщение и число непрочитанных, с кешем на короткий TTL.
// Контракт — ограниченная по времени согласованность: кеш в пределах TTL
// допустимо отдаёт устаревший список, локальная отправка сообщения
// инвалидирует кеш отправителя немедленно.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/snaplink/internal/logger"
	"github.com/snaplink/internal/model"
)

// FriendSource отдаёт принятых друзей пользователя (оба направления связи, без дублей).
type FriendSource interface {
	GetFriends(ctx context.Context, userID string) ([]model.UserPublic, error)
}

// MessageSource отдаёт агрегаты по сообщениям batch-запросами.
type MessageSource interface {
	LastMessages(ctx context.Context, userID string, friendIDs []string) (map[string]*model.Message, error)
	UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error)
}

type cacheEntry struct {
	list []model.Conversation
	at   time.Time
}

// Aggregator кеширует список диалогов на пользователя. Кеш — состояние
// одного процесса с явным TTL и явной инвалидацией, не глобальный синглтон.
type Aggregator struct {
	friends  FriendSource
	messages MessageSource
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewAggregator(friends FriendSource, messages MessageSource, ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Aggregator{
		friends:  friends,
		messages: messages,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// List возвращает диалоги пользователя, отсортированные по времени последнего
// сообщения (новые первыми); диалоги без сообщений идут после всех остальных
// в порядке выдачи списка друзей. force пропускает кеш.
func (a *Aggregator) List(ctx context.Context, userID string, force bool) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conversations.List", time.Now())()
	if !force {
		a.mu.Lock()
		entry, ok := a.cache[userID]
		a.mu.Unlock()
		if ok && a.now().Sub(entry.at) < a.ttl {
			return entry.list, nil
		}
	}

	list, err := a.build(ctx, userID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[userID] = cacheEntry{list: list, at: a.now()}
	a.mu.Unlock()
	return list, nil
}

func (a *Aggregator) build(ctx context.Context, userID string) ([]model.Conversation, error) {
	friends, err := a.friends.GetFriends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("aggregator: friends: %w", err)
	}
	if len(friends) == 0 {
		return []model.Conversation{}, nil
	}

	friendIDs := make([]string, len(friends))
	for i, f := range friends {
		friendIDs[i] = f.ID
	}

	lastByFriend, err := a.messages.LastMessages(ctx, userID, friendIDs)
	if err != nil {
		return nil, fmt.Errorf("aggregator: last messages: %w", err)
	}
	unreadBySender, err := a.messages.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("aggregator: unread counts: %w", err)
	}

	list := make([]model.Conversation, 0, len(friends))
	for _, f := range friends {
		list = append(list, model.Conversation{
			FriendID:    f.ID,
			Friend:      f,
			LastMessage: lastByFriend[f.ID],
			UnreadCount: unreadBySender[f.ID],
		})
	}

	// Стабильная сортировка: диалоги без сообщений сохраняют исходный
	// относительный порядок в хвосте списка.
	sort.SliceStable(list, func(i, j int) bool {
		mi, mj := list[i].LastMessage, list[j].LastMessage
		switch {
		case mi == nil && mj == nil:
			return false
		case mj == nil:
			return true
		case mi == nil:
			return false
		default:
			return mi.CreatedAt.After(mj.CreatedAt)
		}
	})
	return list, nil
}

// Invalidate сбрасывает кеш пользователя: вызывается при локальной отправке
// сообщения и при пометке прочитанным.
func (a *Aggregator) Invalidate(userID string) {
	a.mu.Lock()
	delete(a.cache, userID)
	a.mu.Unlock()
}
