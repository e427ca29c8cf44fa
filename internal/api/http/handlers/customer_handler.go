package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dualauth/internal/api/dto"
	"github.com/spec-kit/dualauth/internal/auth"
	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/service"
	apperrors "github.com/spec-kit/dualauth/pkg/util"
)

// AuthFlows is the part of the auth service the handlers call.
type AuthFlows interface {
	LoginCustomer(ctx context.Context, username, password string) (*service.LoginResult, error)
	LoginStaff(ctx context.Context, username, password string) (*service.StaffLoginResult, error)
	VerifyMFA(ctx context.Context, challengeToken, code string) (*service.LoginResult, error)
	Refresh(ctx context.Context, d domain.Domain, refreshToken, username string) (*service.LoginResult, error)
}

// CustomerHandler exposes auth endpoints of the customer domain.
type CustomerHandler struct {
	auth AuthFlows
}

// NewCustomerHandler constructs handler.
func NewCustomerHandler(authService AuthFlows) *CustomerHandler {
	return &CustomerHandler{auth: authService}
}

// Login handles POST /auth/customer/login.
func (h *CustomerHandler) Login(c *fiber.Ctx) error {
	req, err := parseLogin(c)
	if err != nil {
		return err
	}
	res, err := h.auth.LoginCustomer(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewLoginResponse(res)})
}

// Refresh handles POST /auth/customer/refresh.
func (h *CustomerHandler) Refresh(c *fiber.Ctx) error {
	return refresh(c, h.auth, domain.DomainCustomer)
}

// Me handles GET /customer/me.
func (h *CustomerHandler) Me(c *fiber.Ctx) error {
	return me(c)
}

func parseLogin(c *fiber.Ctx) (dto.LoginRequest, error) {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return req, apperrors.NewValidationError("invalid payload", nil)
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return req, apperrors.NewValidationError("username and password required", nil)
	}
	return req, nil
}

func refresh(c *fiber.Ctx, flows AuthFlows, d domain.Domain) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.RefreshToken == "" {
		return apperrors.NewValidationError("refresh_token required", nil)
	}
	res, err := flows.Refresh(c.UserContext(), d, req.RefreshToken, strings.TrimSpace(req.Username))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewLoginResponse(res)})
}

func me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("unauthenticated")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"data": dto.NewPrincipalResponse(principal)})
}
