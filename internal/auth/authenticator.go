package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
)

// RolePrefix marks role entries in the authority list.
const RolePrefix = "ROLE_"

// Credentials are the username/password presented at login.
type Credentials struct {
	Username string
	Password string
}

// Authenticator resolves credentials into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*domain.Principal, error)
}

// PasswordAuthenticator checks bcrypt password hashes stored in the user repository.
type PasswordAuthenticator struct {
	users repository.UserRepository
}

// NewPasswordAuthenticator constructs the authenticator.
func NewPasswordAuthenticator(users repository.UserRepository) *PasswordAuthenticator {
	return &PasswordAuthenticator{users: users}
}

// Authenticate verifies the password and loads the authority list.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*domain.Principal, error) {
	user, err := a.users.GetByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			burnComparison(creds.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := ComparePassword(user.PasswordHash, creds.Password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Locked {
		return nil, ErrAccountLocked
	}
	if user.Removed {
		return nil, ErrAccountDisabled
	}

	permissions, err := a.users.ListPermissions(ctx, user.Username)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}

	authorities := make([]string, 0, len(permissions)+1)
	if user.RoleName != "" {
		authorities = append(authorities, RolePrefix+user.RoleName)
	}
	authorities = append(authorities, permissions...)

	return &domain.Principal{
		SubjectID:   user.ID,
		Username:    user.Username,
		Authorities: authorities,
	}, nil
}
