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

var ErrAlreadyFriends = errors.New("friendship already exists")

type FriendshipRepository struct {
	pool *pgxpool.Pool
}

func NewFriendshipRepository(pool *pgxpool.Pool) *FriendshipRepository {
	return &FriendshipRepository{pool: pool}
}

// Create создаёт заявку user→friend в статусе pending.
// Если связь в любом направлении уже есть — ErrAlreadyFriends.
func (r *FriendshipRepository) Create(ctx context.Context, userID, friendID string) (*model.Friendship, error) {
	defer logger.DeferLogDuration("friend.Create", time.Now())()
	existing, err := r.GetByPair(ctx, userID, friendID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyFriends
	}

	now := time.Now().UTC()
	f := &model.Friendship{
		ID:        uuid.New().String(),
		UserID:    userID,
		FriendID:  friendID,
		Status:    model.FriendshipPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO friendships (id, user_id, friend_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.UserID, f.FriendID, f.Status, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.Create: %w", err)
	}
	return f, nil
}

func (r *FriendshipRepository) GetByID(ctx context.Context, id string) (*model.Friendship, error) {
	defer logger.DeferLogDuration("friend.GetByID", time.Now())()
	f := &model.Friendship{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, friend_id, status, created_at, updated_at
		 FROM friendships WHERE id = $1`, id,
	).Scan(&f.ID, &f.UserID, &f.FriendID, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("friendRepo.GetByID: %w", err)
	}
	return f, nil
}

// GetByPair возвращает связь между двумя пользователями в любом направлении.
func (r *FriendshipRepository) GetByPair(ctx context.Context, a, b string) (*model.Friendship, error) {
	defer logger.DeferLogDuration("friend.GetByPair", time.Now())()
	f := &model.Friendship{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, friend_id, status, created_at, updated_at
		 FROM friendships
		 WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)`,
		a, b,
	).Scan(&f.ID, &f.UserID, &f.FriendID, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("friendRepo.GetByPair: %w", err)
	}
	return f, nil
}

// Accept принимает заявку. Принять может только адресат (friend_id).
func (r *FriendshipRepository) Accept(ctx context.Context, friendshipID, userID string) error {
	defer logger.DeferLogDuration("friend.Accept", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE friendships SET status = 'accepted', updated_at = now()
		 WHERE id = $1 AND friend_id = $2 AND status = 'pending'`,
		friendshipID, userID,
	)
	if err != nil {
		return fmt.Errorf("friendRepo.Accept: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *FriendshipRepository) Remove(ctx context.Context, userID, friendID string) error {
	defer logger.DeferLogDuration("friend.Remove", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM friendships
		 WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)`,
		userID, friendID,
	)
	if err != nil {
		return fmt.Errorf("friendRepo.Remove: %w", err)
	}
	return nil
}

// GetFriends возвращает принятых друзей пользователя: объединение обоих
// направлений связи, дедупликация по id на стороне SQL.
func (r *FriendshipRepository) GetFriends(ctx context.Context, userID string) ([]model.UserPublic, error) {
	defer logger.DeferLogDuration("friend.GetFriends", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT u.id, u.username, COALESCE(u.avatar_url,''), u.created_at
		 FROM friendships f
		 JOIN users u ON u.id = CASE WHEN f.user_id = $1 THEN f.friend_id ELSE f.user_id END
		 WHERE (f.user_id = $1 OR f.friend_id = $1) AND f.status = 'accepted'
		 ORDER BY u.username`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.GetFriends query: %w", err)
	}
	defer rows.Close()

	friends := make([]model.UserPublic, 0, 16)
	for rows.Next() {
		var u model.UserPublic
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("friendRepo.GetFriends scan: %w", err)
		}
		friends = append(friends, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.GetFriends rows: %w", err)
	}
	return friends, nil
}

// GetPending возвращает входящие заявки (где пользователь — адресат) с данными отправителей.
func (r *FriendshipRepository) GetPending(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.GetPending", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT f.id, f.user_id, f.friend_id, f.status, f.created_at, f.updated_at,
		        u.id, u.username, COALESCE(u.avatar_url,''), u.created_at
		 FROM friendships f
		 JOIN users u ON u.id = f.user_id
		 WHERE f.friend_id = $1 AND f.status = 'pending'
		 ORDER BY f.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.GetPending query: %w", err)
	}
	defer rows.Close()

	reqs := make([]model.FriendRequest, 0, 8)
	for rows.Next() {
		var fr model.FriendRequest
		if err := rows.Scan(&fr.Friendship.ID, &fr.Friendship.UserID, &fr.Friendship.FriendID,
			&fr.Friendship.Status, &fr.Friendship.CreatedAt, &fr.Friendship.UpdatedAt,
			&fr.User.ID, &fr.User.Username, &fr.User.AvatarURL, &fr.User.CreatedAt); err != nil {
			return nil, fmt.Errorf("friendRepo.GetPending scan: %w", err)
		}
		reqs = append(reqs, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.GetPending rows: %w", err)
	}
	return reqs, nil
}

// AreFriends сообщает, есть ли принятая связь между пользователями.
func (r *FriendshipRepository) AreFriends(ctx context.Context, a, b string) (bool, error) {
	defer logger.DeferLogDuration("friend.AreFriends", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM friendships
		   WHERE ((user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1))
		     AND status = 'accepted')`, a, b,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("friendRepo.AreFriends: %w", err)
	}
	return exists, nil
}
