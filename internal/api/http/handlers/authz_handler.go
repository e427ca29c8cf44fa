package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dualauth/internal/api/dto"
	"github.com/spec-kit/dualauth/internal/auth"
	"github.com/spec-kit/dualauth/internal/domain"
	apperrors "github.com/spec-kit/dualauth/pkg/util"
)

// AuthzHandler answers authorization questions for collaborating services.
// The bearer token of the request is the subject; the route fixes the domain.
type AuthzHandler struct{}

// NewAuthzHandler constructs handler.
func NewAuthzHandler() *AuthzHandler {
	return &AuthzHandler{}
}

// Check handles POST /authz/{domain}/check. A deny is a normal 200 response.
func (h *AuthzHandler) Check(d domain.Domain) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := auth.PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("unauthenticated")
		}
		var req dto.AuthzCheckRequest
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
		reqs, err := requirements(d, req)
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			return apperrors.NewValidationError("permissions or role required", nil)
		}

		decision := auth.Allow
		for _, r := range reqs {
			if auth.Authorize(principal, r) == auth.Deny {
				decision = auth.Deny
				break
			}
		}
		return c.JSON(fiber.Map{"data": dto.AuthzCheckResponse{
			Decision:  decision.String(),
			Principal: dto.NewPrincipalResponse(principal),
		}})
	}
}

func requirements(d domain.Domain, req dto.AuthzCheckRequest) ([]domain.Requirement, error) {
	var out []domain.Requirement
	for _, p := range req.Permissions {
		p = strings.TrimSpace(p)
		if p == "" || p == "*" {
			return nil, apperrors.NewValidationError("invalid permission", map[string]any{"permission": p})
		}
		out = append(out, domain.Permission(p))
	}
	if req.Role != "" {
		role, err := domain.ParseRole(d, req.Role)
		if err != nil {
			return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": req.Role})
		}
		out = append(out, role)
	}
	return out, nil
}
