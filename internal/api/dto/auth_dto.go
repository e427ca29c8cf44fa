package dto

import (
	"time"

	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/service"
)

// LoginRequest payload for both domains.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest payload. Username is needed by pools with a client secret.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username,omitempty"`
}

// TokenResponse carries the issued tokens.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	IDToken      string    `json:"id_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// PrincipalResponse is the client view of a verified identity.
type PrincipalResponse struct {
	ID                    string   `json:"id"`
	Username              string   `json:"username"`
	Domain                string   `json:"domain"`
	Role                  string   `json:"role"`
	Permissions           []string `json:"permissions"`
	SessionTimeoutMinutes int      `json:"session_timeout_minutes"`
	// HardSessionTimeoutMinutes caps the client session from its start.
	HardSessionTimeoutMinutes int `json:"hard_session_timeout_minutes"`
}

// LoginResponse is returned by completed logins and refreshes.
type LoginResponse struct {
	Tokens    TokenResponse     `json:"tokens"`
	Principal PrincipalResponse `json:"principal"`
}

// NewTokenResponse converts a token set.
func NewTokenResponse(t domain.TokenSet) TokenResponse {
	return TokenResponse{
		AccessToken:  t.AccessToken,
		IDToken:      t.IDToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresAt:    t.ExpiresAt,
	}
}

// NewPrincipalResponse converts a principal. A wildcard set includes "*".
func NewPrincipalResponse(p domain.Principal) PrincipalResponse {
	perms := p.Permissions.Strings()
	return PrincipalResponse{
		ID:                        p.ID,
		Username:                  p.Username,
		Domain:                    string(p.Domain),
		Role:                      p.Role.Name(),
		Permissions:               perms,
		SessionTimeoutMinutes:     p.SessionTimeoutMinutes(),
		HardSessionTimeoutMinutes: p.HardSessionTimeoutMinutes(),
	}
}

// NewLoginResponse converts a service result.
func NewLoginResponse(r *service.LoginResult) LoginResponse {
	return LoginResponse{
		Tokens:    NewTokenResponse(r.Tokens),
		Principal: NewPrincipalResponse(r.Principal),
	}
}

// AuthzCheckRequest asks whether the bearer of the request token may act.
type AuthzCheckRequest struct {
	Permissions []string `json:"permissions"`
	Role        string   `json:"role,omitempty"`
}

// AuthzCheckResponse reports the decision.
type AuthzCheckResponse struct {
	Decision  string            `json:"decision"`
	Principal PrincipalResponse `json:"principal"`
}
