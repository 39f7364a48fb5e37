package auth

import (
	"errors"
	"net/http"

	"github.com/spec-kit/auth-service/internal/keys"
	"github.com/spec-kit/auth-service/internal/revocation"
	"github.com/spec-kit/auth-service/internal/token"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

// MapTokenError maps token, key and revocation store failures to stable reasons.
// Errors it does not recognise become internal errors.
func MapTokenError(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	switch {
	case errors.Is(err, token.ErrExpired):
		return apperrors.Wrap(apperrors.CodeTokenExpired, "token expired", http.StatusUnauthorized, err)
	case errors.Is(err, token.ErrTampered):
		return apperrors.Wrap(apperrors.CodeTokenTampered, "token signature invalid", http.StatusUnauthorized, err)
	case errors.Is(err, token.ErrMalformed):
		return apperrors.Wrap(apperrors.CodeTokenMalformed, "token malformed", http.StatusBadRequest, err)
	case errors.Is(err, token.ErrIssuerMismatch):
		return apperrors.Wrap(apperrors.CodeIssuerMismatch, "token issuer mismatch", http.StatusUnauthorized, err)
	case errors.Is(err, token.ErrWrongType):
		return apperrors.Wrap(apperrors.CodeWrongTokenType, "wrong token type", http.StatusBadRequest, err)
	case errors.Is(err, revocation.ErrUnavailable):
		return apperrors.Wrap(apperrors.CodeRevocationUnavailable, "revocation store unavailable", http.StatusServiceUnavailable, err)
	case errors.Is(err, keys.ErrNotInitialized):
		return apperrors.Wrap(apperrors.CodeKeysNotReady, "signing keys not ready", http.StatusServiceUnavailable, err)
	}
	return apperrors.NewInternalError(err)
}
