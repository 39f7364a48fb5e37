package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

// RequireAuthority ensures the principal carries at least one of the given authorities.
func RequireAuthority(allowed ...string) fiber.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, authority := range allowed {
		allowedSet[authority] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		for _, authority := range principal.Authorities {
			if _, exists := allowedSet[authority]; exists {
				return c.Next()
			}
		}
		return apperrors.NewForbidden("insufficient authority")
	}
}

// RequireAnyRole ensures the caller is authenticated.
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}
