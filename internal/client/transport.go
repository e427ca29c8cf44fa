// Package client is the SDK used by front ends and the CLI: it talks to the
// auth API, keeps one session per domain and persists both token slots.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dualauth/internal/api/dto"
	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/session"
)

// APIError is an error envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// codeKinds maps server error codes back onto the error taxonomy. Generic
// token failures come back as TokenMalformed.
var codeKinds = map[string]domain.ErrorKind{
	"INVALID_CREDENTIALS":  domain.KindInvalidCredentials,
	"ACCOUNT_UNCONFIRMED":  domain.KindAccountUnconfirmed,
	"MFA_REQUIRED":         domain.KindMFARequired,
	"MFA_INCORRECT":        domain.KindMFAIncorrect,
	"MFA_EXPIRED":          domain.KindMFAExpired,
	"SESSION_EXPIRED":      domain.KindSessionExpired,
	"UNAUTHENTICATED":      domain.KindTokenMalformed,
	"FORBIDDEN":            domain.KindInsufficientPermission,
	"PROVIDER_UNAVAILABLE": domain.KindProviderUnavailable,
}

// AttemptsRemaining returns the attempts left on an MFA_INCORRECT response.
func (e *APIError) AttemptsRemaining() (int, bool) {
	v, ok := e.Details["attempts_remaining"].(float64)
	return int(v), ok
}

// Transport calls the auth API over HTTP.
type Transport struct {
	baseURL string
	timeout time.Duration
}

// NewTransport creates a transport for the API at baseURL.
func NewTransport(baseURL string, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Transport{baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout}
}

// LoginCustomer calls POST /auth/customer/login.
func (t *Transport) LoginCustomer(ctx context.Context, username, password string) (dto.LoginResponse, error) {
	var out dto.LoginResponse
	err := t.do(ctx, http.MethodPost, "/auth/customer/login", "", dto.LoginRequest{Username: username, Password: password}, &out)
	return out, err
}

// LoginStaff calls POST /auth/staff/login.
func (t *Transport) LoginStaff(ctx context.Context, username, password string) (dto.StaffLoginResponse, error) {
	var out dto.StaffLoginResponse
	err := t.do(ctx, http.MethodPost, "/auth/staff/login", "", dto.LoginRequest{Username: username, Password: password}, &out)
	return out, err
}

// VerifyMFA calls POST /auth/staff/mfa-verify.
func (t *Transport) VerifyMFA(ctx context.Context, challengeToken, code string) (dto.LoginResponse, error) {
	var out dto.LoginResponse
	err := t.do(ctx, http.MethodPost, "/auth/staff/mfa-verify", "", dto.MFAVerifyRequest{ChallengeToken: challengeToken, Code: code}, &out)
	return out, err
}

// Me calls GET /{domain}/me.
func (t *Transport) Me(ctx context.Context, d domain.Domain, accessToken string) (domain.Principal, error) {
	var out dto.PrincipalResponse
	if err := t.do(ctx, http.MethodGet, "/"+string(d)+"/me", accessToken, nil, &out); err != nil {
		return domain.Principal{}, err
	}
	return principalFromResponse(d, out)
}

// Refresh implements session.Refresher against POST /auth/{domain}/refresh.
func (t *Transport) Refresh(ctx context.Context, d domain.Domain, username, refreshToken string) (session.Refreshed, error) {
	var out dto.LoginResponse
	err := t.do(ctx, http.MethodPost, "/auth/"+string(d)+"/refresh", "", dto.RefreshRequest{RefreshToken: refreshToken, Username: username}, &out)
	if err != nil {
		return session.Refreshed{}, err
	}
	principal, err := principalFromResponse(d, out.Principal)
	if err != nil {
		return session.Refreshed{}, err
	}
	return session.Refreshed{
		AccessToken:  out.Tokens.AccessToken,
		RefreshToken: out.Tokens.RefreshToken,
		ExpiresAt:    out.Tokens.ExpiresAt,
		Principal:    &principal,
	}, nil
}

func (t *Transport) do(ctx context.Context, method, path, token string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := t.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(t.baseURL + path)
	default:
		agent = fiber.Post(t.baseURL + path)
	}
	agent.Timeout(timeout)
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	if token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	if body != nil {
		agent.JSON(body)
	}

	// Bytes releases the agent.
	status, raw, errs := agent.Bytes()
	if len(errs) > 0 {
		return domain.NewAuthError(domain.KindProviderUnavailable, fmt.Errorf("%s %s: %w", method, path, errors.Join(errs...)))
	}

	var env struct {
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: decode response (status %d): %w", method, path, status, err)
	}
	if status >= 400 || env.Error != nil {
		apiErr := &APIError{Status: status}
		if env.Error != nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		if kind, ok := codeKinds[apiErr.Code]; ok {
			return domain.NewAuthError(kind, apiErr)
		}
		if status >= 500 {
			return domain.NewAuthError(domain.KindProviderUnavailable, apiErr)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func principalFromResponse(d domain.Domain, p dto.PrincipalResponse) (domain.Principal, error) {
	stored := storedPrincipal{
		ID:                    p.ID,
		Username:              p.Username,
		Role:                  p.Role,
		Permissions:           p.Permissions,
		SessionTimeoutMinutes: p.SessionTimeoutMinutes,
		HardTimeoutMinutes:    p.HardSessionTimeoutMinutes,
	}
	if p.Domain != string(d) {
		return domain.Principal{}, domain.NewAuthError(domain.KindCrossDomainAccess,
			fmt.Errorf("server returned a %q principal for %q", p.Domain, d))
	}
	return stored.principal(d)
}
