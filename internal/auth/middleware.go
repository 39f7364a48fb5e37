package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/revocation"
	"github.com/spec-kit/auth-service/internal/token"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

const principalKey = "auth_principal"

// Middleware validates bearer access tokens and stores the principal for handlers.
type Middleware struct {
	verifier *token.Verifier
	access   revocation.Store
}

// NewMiddleware constructs middleware. access is nil unless access tokens are tracked;
// when set, tokens whose id has no entry are refused.
func NewMiddleware(verifier *token.Verifier, access revocation.Store) *Middleware {
	return &Middleware{verifier: verifier, access: access}
}

// Handle enforces authentication for protected routes.
func (m *Middleware) Handle(c *fiber.Ctx) error {
	raw, err := BearerToken(c)
	if err != nil {
		return err
	}

	claims, err := m.verifier.VerifyKind(raw, token.KindAccess)
	if err != nil {
		return MapTokenError(err)
	}
	if m.access != nil {
		ok, err := m.access.Exists(c.UserContext(), claims.TokenID)
		if err != nil {
			return MapTokenError(err)
		}
		if !ok {
			return apperrors.NewDomainError(apperrors.CodeTokenRevoked, "access token revoked", fiber.StatusUnauthorized, nil)
		}
	}

	c.Locals(principalKey, &domain.Principal{
		SubjectID:   claims.SubjectID,
		Username:    claims.Username,
		Authorities: claims.Authorities,
	})
	return c.Next()
}

// BearerToken extracts the credential from the Authorization header.
func BearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return "", apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*domain.Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*domain.Principal)
	return principal, ok
}
