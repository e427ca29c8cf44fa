package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dualauth/internal/api/dto"
	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/service"
	apperrors "github.com/spec-kit/dualauth/pkg/util"
)

// StaffHandler exposes auth endpoints of the staff domain.
type StaffHandler struct {
	auth AuthFlows
}

// NewStaffHandler constructs handler.
func NewStaffHandler(authService AuthFlows) *StaffHandler {
	return &StaffHandler{auth: authService}
}

// Login handles POST /auth/staff/login.
func (h *StaffHandler) Login(c *fiber.Ctx) error {
	req, err := parseLogin(c)
	if err != nil {
		return err
	}
	res, err := h.auth.LoginStaff(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}

	resp := dto.StaffLoginResponse{MFARequired: res.Challenge != nil}
	if res.Challenge != nil {
		resp.Challenge = dto.NewChallengeResponse(*res.Challenge)
	} else if res.Login != nil {
		login := dto.NewLoginResponse(res.Login)
		resp.Login = &login
	}
	return c.JSON(fiber.Map{"data": resp})
}

// VerifyMFA handles POST /auth/staff/mfa-verify.
func (h *StaffHandler) VerifyMFA(c *fiber.Ctx) error {
	var req dto.MFAVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.ChallengeToken == "" || req.Code == "" {
		return apperrors.NewValidationError("challenge_token and code required", nil)
	}

	res, err := h.auth.VerifyMFA(c.UserContext(), req.ChallengeToken, req.Code)
	if err != nil {
		var retry *service.MFARetryError
		if errors.As(err, &retry) {
			de := apperrors.FromAuthError(domain.KindMFAIncorrect)
			de.Details = map[string]any{"attempts_remaining": retry.AttemptsRemaining}
			de.Err = err
			return de
		}
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewLoginResponse(res)})
}

// Refresh handles POST /auth/staff/refresh.
func (h *StaffHandler) Refresh(c *fiber.Ctx) error {
	return refresh(c, h.auth, domain.DomainStaff)
}

// Me handles GET /staff/me.
func (h *StaffHandler) Me(c *fiber.Ctx) error {
	return me(c)
}
