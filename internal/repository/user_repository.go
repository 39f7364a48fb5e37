package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/auth-service/internal/domain"
)

// ErrNoDatabase is returned when the service runs without a postgres pool.
var ErrNoDatabase = errors.New("postgres not configured")

// UserRepository defines read access to accounts and their authorities.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	ListPermissions(ctx context.Context, username string) ([]string, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	if r.pool == nil {
		return nil, ErrNoDatabase
	}
	const query = `
        SELECT u.id::text, u.username, u.password_hash, COALESCE(u.phone, ''),
               COALESCE(r.name, ''), u.locked, u.removed, u.created_at, u.updated_at
        FROM users u
        LEFT JOIN roles r ON r.id = u.role_id
        WHERE u.username=$1`

	var user domain.User
	if err := r.pool.QueryRow(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Phone,
		&user.RoleName,
		&user.Locked,
		&user.Removed,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ListPermissions(ctx context.Context, username string) ([]string, error) {
	if r.pool == nil {
		return nil, ErrNoDatabase
	}
	const query = `
        SELECT p.name
        FROM users u
        JOIN role_permissions rp ON rp.role_id = u.role_id
        JOIN permissions p ON p.id = rp.permission_id
        WHERE u.username=$1
        ORDER BY p.name`

	rows, err := r.pool.Query(ctx, query, username)
	if err != nil {
		return nil, err
	}
	permissions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return permissions, nil
}
