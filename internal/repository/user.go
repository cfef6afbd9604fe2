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

var ErrNotFound = errors.New("not found")

// userCols — список колонок для SELECT (порядок соответствует scanUser).
const userCols = `id, username, email, password_hash, COALESCE(avatar_url,''), created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
		u.UpdatedAt = u.CreatedAt
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.AvatarURL, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id), u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByEmail", time.Now())()
	u := &model.User{}
	err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email), u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByEmail: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByUsername", time.Now())()
	u := &model.User{}
	err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username), u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByUsername: %w", err)
	}
	return u, nil
}

// Search ищет пользователей по подстроке username (ILIKE), исключая excludeID.
func (r *UserRepository) Search(ctx context.Context, query, excludeID string, limit int) ([]model.UserPublic, error) {
	defer logger.DeferLogDuration("user.Search", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, username, COALESCE(avatar_url,''), created_at
		 FROM users
		 WHERE username ILIKE '%' || $1 || '%' AND id != $2
		 ORDER BY username
		 LIMIT $3`, query, excludeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.Search query: %w", err)
	}
	defer rows.Close()

	users := make([]model.UserPublic, 0, limit)
	for rows.Next() {
		var u model.UserPublic
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("userRepo.Search scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.Search rows: %w", err)
	}
	return users, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id, username, avatarURL string) error {
	defer logger.DeferLogDuration("user.UpdateProfile", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET username = $1, avatar_url = $2, updated_at = now() WHERE id = $3`,
		username, avatarURL, id,
	)
	if err != nil {
		return fmt.Errorf("userRepo.UpdateProfile: %w", err)
	}
	return nil
}
