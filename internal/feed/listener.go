package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/snaplink/internal/logger"
	"github.com/snaplink/internal/model"
)

// notifyChannel — канал NOTIFY, в который триггер messages_notify шлёт события
// (см. migrations/002_message_feed.sql).
const notifyChannel = "message_events"

// Тайминги переподключения после разрыва LISTEN-соединения.
const (
	reconnectMin = 2 * time.Second
	reconnectMax = 30 * time.Second
)

// Listener реализует Feed поверх Postgres LISTEN/NOTIFY.
// Держит выделенное соединение из пула; при разрыве переподключается
// с экспоненциальной задержкой, подписчики переживают переподключение.
// События, произошедшие во время разрыва, не доигрываются — это допустимо:
// лента и так at-least-once только best-effort, UI перечитывает историю
// из хранилища при переподключении.
type Listener struct {
	pool *pgxpool.Pool

	mu   sync.RWMutex
	subs map[*listenerSub]struct{}
}

func NewListener(pool *pgxpool.Pool) *Listener {
	return &Listener{pool: pool, subs: make(map[*listenerSub]struct{})}
}

func (l *Listener) Subscribe(fn func(Event)) Subscription {
	s := &listenerSub{listener: l, fn: fn}
	l.mu.Lock()
	l.subs[s] = struct{}{}
	l.mu.Unlock()
	return s
}

// Run слушает NOTIFY до отмены ctx. Запускается одной горутиной из main.
func (l *Listener) Run(ctx context.Context) {
	var delay time.Duration
	for {
		if ctx.Err() != nil {
			return
		}
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		delay = retryDelay(delay, connected)
		logger.Errorf("feed: listen failed, retry in %v: %v", delay, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// retryDelay выбирает паузу перед следующей попыткой listen: подряд идущие
// сбои удваивают паузу до потолка, после живой сессии отсчёт начинается
// с минимума заново.
func retryDelay(prev time.Duration, connected bool) time.Duration {
	if connected || prev < reconnectMin {
		return reconnectMin
	}
	d := prev * 2
	if d > reconnectMax {
		d = reconnectMax
	}
	return d
}

// listen держит одну LISTEN-сессию; connected=true, если LISTEN успел
// установиться (сессия была живой, а не сбой подключения).
func (l *Listener) listen(ctx context.Context) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return false, err
	}
	logger.Infof("feed: listening on %s", notifyChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		nt, err := parseNotice(n.Payload)
		if err != nil {
			logger.Errorf("feed: bad payload: %v", err)
			continue
		}
		m, err := l.fetchMessage(ctx, nt.ID)
		if err != nil {
			logger.Errorf("feed: load message %s: %v", nt.ID, err)
			continue
		}
		l.fanout(Event{Op: nt.Op, Message: m})
	}
}

// notice — полезная нагрузка NOTIFY: только op и id, тело строки
// перечитывается запросом (pg_notify не вмещает длинный content).
type notice struct {
	Op Op     `json:"op"`
	ID string `json:"id"`
}

func parseNotice(payload string) (notice, error) {
	var n notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return notice{}, err
	}
	if n.ID == "" {
		return notice{}, errors.New("empty message id")
	}
	if n.Op != OpInsert && n.Op != OpUpdate {
		return notice{}, errors.New("unknown op " + string(n.Op))
	}
	return n, nil
}

// fetchMessage перечитывает строку по id. Отдаётся текущее состояние, а не
// состояние на момент события: read монотонен, для подписчиков это безопасно.
func (l *Listener) fetchMessage(ctx context.Context, id string) (model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var m model.Message
	err := l.pool.QueryRow(ctx,
		`SELECT id, sender_id, receiver_id, content, kind, COALESCE(media_url,''), read, created_at
		 FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Kind, &m.MediaURL, &m.Read, &m.CreatedAt)
	return m, err
}

func (l *Listener) fanout(ev Event) {
	l.mu.RLock()
	targets := make([]*listenerSub, 0, len(l.subs))
	for s := range l.subs {
		targets = append(targets, s)
	}
	l.mu.RUnlock()

	for _, s := range targets {
		s.fn(ev)
	}
}

type listenerSub struct {
	listener *Listener
	fn       func(Event)
	once     sync.Once
}

func (s *listenerSub) Close() {
	s.once.Do(func() {
		s.listener.mu.Lock()
		delete(s.listener.subs, s)
		s.listener.mu.Unlock()
	})
}
