package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dualauth/internal/domain"
)

// RequirePermission lets the request through only when the principal of
// domain d holds every listed permission.
func RequirePermission(d domain.Domain, perms ...domain.Permission) fiber.Handler {
	reqs := make([]domain.Requirement, 0, len(perms))
	for _, p := range perms {
		reqs = append(reqs, p)
	}
	return requireHandler(d, reqs)
}

// RequireRole lets the request through only when the principal's role ranks
// at least as high as role. The role also fixes the domain.
func RequireRole(role domain.Role) fiber.Handler {
	return requireHandler(role.Domain(), []domain.Requirement{role})
}

func requireHandler(d domain.Domain, reqs []domain.Requirement) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return domain.NewAuthError(domain.KindTokenMalformed, errors.New("unauthenticated request"))
		}
		if err := Require(principal, d, reqs...); err != nil {
			return err
		}
		return c.Next()
	}
}
