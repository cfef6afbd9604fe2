package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/snaplink/internal/logger"
	"github.com/snaplink/internal/model"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	defer logger.DeferLogDuration("notif.Create", time.Now())()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, from_user_id, type, message_id, body, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.FromUserID, n.Type, n.MessageID, n.Body, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.Create: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notif.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, from_user_id, type, message_id, body, read, created_at
		 FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("notifRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	items := make([]model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.FromUserID, &n.Type, &n.MessageID, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notifRepo.ListForUser scan: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifRepo.ListForUser rows: %w", err)
	}
	return items, nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	defer logger.DeferLogDuration("notif.MarkAllRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read = true WHERE user_id = $1 AND read = false`, userID,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.MarkAllRead: %w", err)
	}
	return nil
}
