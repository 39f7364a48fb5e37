package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-service/internal/api/dto"
	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/service"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

// AuthHandler exposes login, refresh and logout.
type AuthHandler struct {
	auth   *service.AuthService
	tokens *service.TokenService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, tokenService *service.TokenService) *AuthHandler {
	return &AuthHandler{auth: authService, tokens: tokenService}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Username == "" || req.Password == "" {
		return apperrors.NewValidationError("username and password required", nil)
	}

	res, err := h.auth.Login(c.UserContext(), auth.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		return mapError(err)
	}

	resp := tokenResponse(res.Pair)
	resp.Authorities = res.Authorities
	return c.JSON(fiber.Map{"data": resp})
}

// Refresh handles POST /auth/refresh with the refresh token as bearer credential.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	raw, err := auth.BearerToken(c)
	if err != nil {
		return err
	}
	pair, err := h.tokens.Refresh(c.UserContext(), raw)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"data": tokenResponse(pair)})
}

// Logout handles POST /auth/logout by revoking the bearer refresh token. An optional
// accessToken in the body is revoked as well.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	raw, err := auth.BearerToken(c)
	if err != nil {
		return err
	}
	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if _, err := h.tokens.Revoke(c.UserContext(), raw); err != nil {
		return mapError(err)
	}
	if req.AccessToken != "" {
		if _, err := h.tokens.RevokeAccess(c.UserContext(), req.AccessToken); err != nil {
			return mapError(err)
		}
	}
	return c.SendStatus(http.StatusNoContent)
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	return c.JSON(fiber.Map{"data": dto.PrincipalResponse{
		SubjectID:   principal.SubjectID,
		Username:    principal.Username,
		Authorities: principal.Authorities,
	}})
}

func tokenResponse(pair *domain.TokenPair) dto.TokenResponse {
	return dto.TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		PublicKey64:      pair.PublicKey64,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Rotated:          pair.Rotated,
	}
}
