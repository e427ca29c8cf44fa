package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dualauth/internal/domain"
)

// SigningKeys is the key cache surface behind the staff admin endpoints.
type SigningKeys interface {
	Warm(ctx context.Context) error
	Len() int
}

// KeysHandler lets staff inspect and refresh the signing key cache.
type KeysHandler struct {
	keys SigningKeys
}

// NewKeysHandler constructs handler.
func NewKeysHandler(keys SigningKeys) *KeysHandler {
	return &KeysHandler{keys: keys}
}

// Status handles GET /staff/signing-keys.
func (h *KeysHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": fiber.Map{"cached_keys": h.keys.Len()}})
}

// Refresh handles POST /staff/signing-keys/refresh. It refetches every
// domain's key set regardless of the refetch throttle.
func (h *KeysHandler) Refresh(c *fiber.Ctx) error {
	if err := h.keys.Warm(c.UserContext()); err != nil {
		return domain.NewAuthError(domain.KindProviderUnavailable, err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"cached_keys": h.keys.Len()}})
}
