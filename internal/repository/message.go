package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/snaplink/internal/logger"
	"github.com/snaplink/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create сохраняет сообщение. Идентификатор назначает транспорт до записи
// (пустой — подстрахует БД), created_at назначает БД и пишется обратно в m.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, content, kind, media_url, read)
		 VALUES ($1, $2, $3, $4, $5, $6, false)
		 RETURNING created_at`,
		m.ID, m.SenderID, m.ReceiverID, m.Content, m.Kind, m.MediaURL,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	m.Read = false
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, sender_id, receiver_id, content, kind, COALESCE(media_url,''), read, created_at
		 FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Kind, &m.MediaURL, &m.Read, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// GetConversation возвращает последние limit сообщений пары в порядке создания
// (старые первыми): выборка идёт с конца, затем разворачивается.
func (r *MessageRepository) GetConversation(ctx context.Context, userID, friendID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, sender_id, receiver_id, content, kind, COALESCE(media_url,''), read, created_at
		 FROM messages
		 WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		 ORDER BY created_at DESC
		 LIMIT $3`, userID, friendID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetConversation query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Kind, &m.MediaURL, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.GetConversation scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetConversation rows: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkAsRead помечает прочитанными все непрочитанные сообщения от peer к viewer.
// Слепой фильтрованный UPDATE: не compare-and-swap, повторный вызов безвреден.
func (r *MessageRepository) MarkAsRead(ctx context.Context, viewerID, peerID string) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkAsRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET read = true
		 WHERE receiver_id = $1 AND sender_id = $2 AND read = false`,
		viewerID, peerID,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkAsRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountUnread возвращает точное число непрочитанных сообщений от peer к viewer.
func (r *MessageRepository) CountUnread(ctx context.Context, viewerID, peerID string) (int, error) {
	defer logger.DeferLogDuration("msg.CountUnread", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE receiver_id = $1 AND sender_id = $2 AND read = false`,
		viewerID, peerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.CountUnread: %w", err)
	}
	return n, nil
}

// LastMessages возвращает последнее сообщение для каждой переписки userID
// с друзьями из friendIDs одним запросом (DISTINCT ON по другу).
func (r *MessageRepository) LastMessages(ctx context.Context, userID string, friendIDs []string) (map[string]*model.Message, error) {
	defer logger.DeferLogDuration("msg.LastMessages", time.Now())()
	result := make(map[string]*model.Message, len(friendIDs))
	if len(friendIDs) == 0 {
		return result, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (friend_id)
		        friend_id, id, sender_id, receiver_id, content, kind, COALESCE(media_url,''), read, created_at
		 FROM (
		   SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS friend_id, *
		   FROM messages
		   WHERE sender_id = $1 OR receiver_id = $1
		 ) m
		 WHERE friend_id = ANY($2)
		 ORDER BY friend_id, created_at DESC`, userID, friendIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.LastMessages query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var friendID string
		m := &model.Message{}
		if err := rows.Scan(&friendID, &m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Kind, &m.MediaURL, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.LastMessages scan: %w", err)
		}
		result[friendID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.LastMessages rows: %w", err)
	}
	return result, nil
}

// UnreadCounts возвращает число непрочитанных сообщений для viewer,
// сгруппированное по отправителю, одним запросом.
func (r *MessageRepository) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	defer logger.DeferLogDuration("msg.UnreadCounts", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT sender_id, COUNT(*) FROM messages
		 WHERE receiver_id = $1 AND read = false
		 GROUP BY sender_id`, viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.UnreadCounts query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, 16)
	for rows.Next() {
		var senderID string
		var n int
		if err := rows.Scan(&senderID, &n); err != nil {
			return nil, fmt.Errorf("msgRepo.UnreadCounts scan: %w", err)
		}
		counts[senderID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.UnreadCounts rows: %w", err)
	}
	return counts, nil
}
