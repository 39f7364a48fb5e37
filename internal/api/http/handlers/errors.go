package handlers

import (
	"errors"
	"net/http"

	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/repository"
	"github.com/spec-kit/auth-service/internal/service"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

// mapError turns service and authentication sentinels into stable outward codes.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrRefreshTokenNotFound):
		return apperrors.Wrap(apperrors.CodeRefreshTokenNotFound, "refresh token not found", http.StatusUnauthorized, err)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return apperrors.Wrap(apperrors.CodeInvalidCredentials, "invalid username or password", http.StatusUnauthorized, err)
	case errors.Is(err, auth.ErrAccountLocked):
		return apperrors.Wrap(apperrors.CodeAccountLocked, "account locked", http.StatusForbidden, err)
	case errors.Is(err, auth.ErrAccountDisabled):
		return apperrors.Wrap(apperrors.CodeAccountDisabled, "account disabled", http.StatusForbidden, err)
	case errors.Is(err, repository.ErrNoDatabase):
		return apperrors.Wrap("DEPENDENCY_UNAVAILABLE", "user directory unavailable", http.StatusServiceUnavailable, err)
	}
	return auth.MapTokenError(err)
}
