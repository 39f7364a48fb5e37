package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/domain"
)

// LoginResult is the token pair plus the principal's authorities.
type LoginResult struct {
	Pair        *domain.TokenPair
	Authorities []string
}

// AuthService coordinates login: credentials are resolved by the authenticator and a pair
// is issued for the resulting principal.
type AuthService struct {
	authenticator auth.Authenticator
	tokens        *TokenService
	logger        *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(authenticator auth.Authenticator, tokens *TokenService, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{authenticator: authenticator, tokens: tokens, logger: logger}
}

// Login authenticates and issues a new token pair.
func (s *AuthService) Login(ctx context.Context, creds auth.Credentials) (*LoginResult, error) {
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" || creds.Password == "" {
		return nil, auth.ErrInvalidCredentials
	}

	principal, err := s.authenticator.Authenticate(ctx, creds)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrAccountLocked) || errors.Is(err, auth.ErrAccountDisabled) {
			s.logger.Info("login refused", zap.String("username", creds.Username), zap.Error(err))
		}
		return nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, principal)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Pair: pair, Authorities: principal.Authorities}, nil
}
