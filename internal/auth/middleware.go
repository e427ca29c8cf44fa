package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dualauth/internal/domain"
)

const principalKey = "auth_principal"

// AuthMiddleware verifies bearer tokens for one expected domain per route group.
type AuthMiddleware struct {
	verifier *Verifier
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(verifier *Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireDomain authenticates the request as a principal of d. Tokens of the
// other domain fail on issuer before any handler runs.
func (m *AuthMiddleware) RequireDomain(d domain.Domain) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, err := BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return err
		}
		principal, err := m.verifier.Verify(c.UserContext(), raw, d)
		if err != nil {
			return err
		}
		if err := AssertDomain(principal, d); err != nil {
			return err
		}
		c.Locals(principalKey, principal)
		return c.Next()
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", domain.NewAuthError(domain.KindTokenMalformed, errors.New("missing authorization header"))
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", domain.NewAuthError(domain.KindTokenMalformed, errors.New("invalid authorization header"))
	}
	return strings.TrimSpace(parts[1]), nil
}

// PrincipalFromContext retrieves the authenticated principal.
func PrincipalFromContext(c *fiber.Ctx) (domain.Principal, bool) {
	principal, ok := c.Locals(principalKey).(domain.Principal)
	return principal, ok && !principal.IsZero()
}
