package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/medrecord-gateway/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUserByUsername возвращает repository.ErrNotFound, если пользователя нет.
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT id, username, password_hash, name, email, role, created_at, updated_at
		FROM users WHERE username = $1`

	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Name, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapError("get user", err)
	}
	return u, nil
}

// CreateUser сохраняет пользователя; ID генерируется, если не задан.
// Занятый username — repository.ErrConflict.
func (r *UserRepo) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	query := `
		INSERT INTO users (id, username, password_hash, name, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Username, u.PasswordHash, u.Name, u.Email, string(u.Role), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return mapError("create user", err)
	}
	return nil
}

func (r *UserRepo) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, mapError("count users", err)
	}
	return n, nil
}
