package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dualauth/internal/auth"
	"github.com/spec-kit/dualauth/internal/domain"
	apperrors "github.com/spec-kit/dualauth/pkg/util"
)

// JWKSHandler publishes the key sets of locally signed domains.
type JWKSHandler struct {
	issuers map[domain.Domain]*auth.TokenIssuer
}

// NewJWKSHandler constructs handler. Domains served by a hosted provider are absent.
func NewJWKSHandler(issuers map[domain.Domain]*auth.TokenIssuer) *JWKSHandler {
	return &JWKSHandler{issuers: issuers}
}

// KeySet handles GET /auth/:domain/.well-known/jwks.json.
func (h *JWKSHandler) KeySet(c *fiber.Ctx) error {
	d, err := domain.ParseDomain(c.Params("domain"))
	if err != nil {
		return apperrors.NewNotFound("key set", nil)
	}
	issuer, ok := h.issuers[d]
	if !ok || issuer == nil {
		return apperrors.NewNotFound("key set", nil)
	}
	c.Set(fiber.HeaderCacheControl, "public, max-age=300")
	return c.JSON(issuer.KeySet())
}
