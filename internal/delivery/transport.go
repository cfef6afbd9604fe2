// Package delivery — двухпутевой транспорт сообщений: durable-запись в
// хранилище (источник истины) плюс best-effort broadcast для мгновенной
// доставки, на приёме — лента изменений БД как страховка и кеш дедупликации,
// чтобы каждое сообщение дошло до UI ровно один раз независимо от того,
// какие пути его доставили.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snaplink/internal/broker"
	"github.com/snaplink/internal/feed"
	"github.com/snaplink/internal/logger"
	"github.com/snaplink/internal/model"
)

// ErrPersist — durable-запись не удалась. Единственная ошибка, которую
// возвращает Send: сбой быстрого пути никогда не фатален.
var ErrPersist = errors.New("persist message")

// Store — минимальный контракт durable-хранилища для транспорта.
// Create записывает сообщение с уже назначенным ID и заполняет CreatedAt.
type Store interface {
	Create(ctx context.Context, m *model.Message) error
}

// Options настраивают транспорт.
type Options struct {
	// DedupCapacity — размер кеша дедупликации на подписку (0 — значение по умолчанию).
	DedupCapacity int
	// OnPersist вызывается в отдельной горутине после успешной durable-записи:
	// инвалидация кеша диалогов, уведомления, push. Ошибки внутри — забота хука.
	OnPersist func(m *model.Message)
}

// Transport связывает хранилище, broadcast-канал и ленту изменений.
type Transport struct {
	store     Store
	broker    broker.Broker
	feed      feed.Feed
	dedupCap  int
	onPersist func(m *model.Message)
}

func NewTransport(store Store, br broker.Broker, fd feed.Feed, opts Options) *Transport {
	return &Transport{
		store:     store,
		broker:    br,
		feed:      fd,
		dedupCap:  opts.DedupCapacity,
		onPersist: opts.OnPersist,
	}
}

// Send записывает сообщение в хранилище и затем публикует его на быстром
// пути. Порядок принципиален: durable-запись первична, и только её сбой
// является сбоем Send. Ошибка публикации логируется и глотается — лента
// изменений доставит сообщение сама.
func (t *Transport) Send(ctx context.Context, m *model.Message) error {
	return t.send(ctx, m, nil)
}

// SendAcked — как Send, но перед записью помечает id сообщения доставленным
// в подписке отправителя: собственная копия, показанная из ack, не вернётся
// ни быстрым путём, ни лентой, даже если лента обгонит возврат из Send.
// Id назначается здесь же, до записи, поэтому окна для гонки нет.
func (t *Transport) SendAcked(ctx context.Context, m *model.Message, ack *Subscription) error {
	return t.send(ctx, m, ack)
}

func (t *Transport) send(ctx context.Context, m *model.Message, ack *Subscription) error {
	defer logger.DeferLogDuration("transport.Send", time.Now())()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if ack != nil {
		// При сбое записи id остаётся в кеше дедупликации — безвредно,
		// идентификаторы не переиспользуются.
		ack.MarkSeen(m.ID)
	}
	if err := t.store.Create(ctx, m); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	payload, err := json.Marshal(m)
	if err != nil {
		logger.Errorf("transport: marshal message %s: %v", m.ID, err)
	} else if err := t.broker.Publish(ctx, broker.InstantTopic(m.SenderID, m.ReceiverID), payload); err != nil {
		// Быстрый путь необязателен: не ретраим и не поднимаем наверх.
		logger.Errorf("transport: instant publish %s: %v", m.ID, err)
	}

	if t.onPersist != nil {
		msg := *m
		go t.onPersist(&msg)
	}
	return nil
}

// Subscription — подписка на переписку с одним собеседником.
type Subscription struct {
	dedup     *Dedup
	brokerSub broker.Subscription
	feedSub   feed.Subscription
	once      sync.Once
}

// MarkSeen помечает id как уже доставленный: собственное отправленное
// сообщение, показанное из ack, не должно прийти второй раз из ленты.
func (s *Subscription) MarkSeen(id string) {
	s.dedup.Record(id)
}

// Close снимает обе подписки. Идемпотентен.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.brokerSub != nil {
			s.brokerSub.Close()
		}
		if s.feedSub != nil {
			s.feedSub.Close()
		}
	})
}

// Subscribe открывает приём новых сообщений переписки self↔peer: быстрый
// broadcast-путь и лента изменений БД, оба через общий кеш дедупликации.
// onMessage вызывается ровно один раз на id, из горутин транспорта; порядок
// прихода между путями не гарантируется — получатель сортирует по CreatedAt.
// Недоступность быстрого пути не фатальна: остаётся лента изменений.
func (t *Transport) Subscribe(ctx context.Context, selfID, peerID string, onMessage func(model.Message)) (*Subscription, error) {
	sub := &Subscription{dedup: NewDedup(t.dedupCap)}

	deliver := func(m model.Message) {
		if !m.InConversation(selfID, peerID) {
			return
		}
		if !sub.dedup.CheckAndRecord(m.ID) {
			return
		}
		onMessage(m)
	}

	brokerSub, err := t.broker.Subscribe(ctx, broker.InstantTopic(peerID, selfID), func(payload []byte) {
		var m model.Message
		if err := json.Unmarshal(payload, &m); err != nil {
			logger.Errorf("transport: bad instant payload: %v", err)
			return
		}
		deliver(m)
	})
	if err != nil {
		logger.Errorf("transport: instant subscribe %s/%s: %v (остаётся только лента БД)", selfID, peerID, err)
	} else {
		sub.brokerSub = brokerSub
	}

	sub.feedSub = t.feed.Subscribe(func(ev feed.Event) {
		if ev.Op != feed.OpInsert {
			return
		}
		deliver(ev.Message)
	})
	return sub, nil
}

// SubscribeReads открывает приём реакций прочтения: события update ленты,
// где self — отправитель, peer — получатель и read=true. Сигнал монотонный
// (false→true), дубликаты возможны — onRead обязан быть идемпотентным.
func (t *Transport) SubscribeReads(ctx context.Context, selfID, peerID string, onRead func(messageID string)) *Subscription {
	sub := &Subscription{dedup: NewDedup(t.dedupCap)}
	sub.feedSub = t.feed.Subscribe(func(ev feed.Event) {
		m := ev.Message
		if ev.Op != feed.OpUpdate || !m.Read {
			return
		}
		if m.SenderID != selfID || m.ReceiverID != peerID {
			return
		}
		if !sub.dedup.CheckAndRecord(m.ID) {
			return
		}
		onRead(m.ID)
	})
	return sub
}
