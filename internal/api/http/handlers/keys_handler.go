package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-service/internal/api/dto"
	"github.com/spec-kit/auth-service/internal/service"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

// KeysHandler distributes the verification key.
type KeysHandler struct {
	keys *service.KeyService
}

// NewKeysHandler constructs handler.
func NewKeysHandler(keyService *service.KeyService) *KeysHandler {
	return &KeysHandler{keys: keyService}
}

// Describe handles GET /auth/publicKey.
func (h *KeysHandler) Describe(c *fiber.Ctx) error {
	desc, err := h.keys.Describe()
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.PublicKeyResponse{
		PublicKey: desc.PublicKey,
		Algorithm: desc.Algorithm,
		KeySize:   desc.KeySize,
		Format:    desc.Format,
	}})
}

// PublicKey handles GET /rpc/auth/publicKey.
func (h *KeysHandler) PublicKey(c *fiber.Ctx) error {
	key, err := h.keys.GetPublicKey()
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"data": key})
}

// CheckPublicKey handles POST /rpc/auth/checkPublicKey. The body is the raw base64 candidate;
// a JSON string body is accepted as well.
func (h *KeysHandler) CheckPublicKey(c *fiber.Ctx) error {
	candidate := string(c.Body())
	if c.Is("json") {
		if err := c.BodyParser(&candidate); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if candidate == "" {
		return apperrors.NewValidationError("public key required", nil)
	}

	match, err := h.keys.CheckPublicKey(candidate)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.CheckPublicKeyResponse{Match: match}})
}
