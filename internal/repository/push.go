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

type PushSubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewPushSubscriptionRepository(pool *pgxpool.Pool) *PushSubscriptionRepository {
	return &PushSubscriptionRepository{pool: pool}
}

// Save сохраняет подписку; по endpoint подписка уникальна, повторная запись обновляет ключи.
func (r *PushSubscriptionRepository) Save(ctx context.Context, s *model.PushSubscription) error {
	defer logger.DeferLogDuration("pushSub.Save", time.Now())()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (endpoint) DO UPDATE SET user_id = $2, p256dh = $4, auth = $5`,
		s.ID, s.UserID, s.Endpoint, s.P256dh, s.Auth, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pushSubRepo.Save: %w", err)
	}
	return nil
}

func (r *PushSubscriptionRepository) GetByUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	defer logger.DeferLogDuration("pushSub.GetByUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, endpoint, p256dh, auth, created_at
		 FROM push_subscriptions WHERE user_id = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("pushSubRepo.GetByUser query: %w", err)
	}
	defer rows.Close()

	subs := make([]model.PushSubscription, 0, 4)
	for rows.Next() {
		var s model.PushSubscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.P256dh, &s.Auth, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("pushSubRepo.GetByUser scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pushSubRepo.GetByUser rows: %w", err)
	}
	return subs, nil
}

func (r *PushSubscriptionRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	defer logger.DeferLogDuration("pushSub.DeleteByEndpoint", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	if err != nil {
		return fmt.Errorf("pushSubRepo.DeleteByEndpoint: %w", err)
	}
	return nil
}
