package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/dualauth/internal/domain"
)

// TokenClaims is the JWT payload issued by the identity providers.
type TokenClaims struct {
	TokenUse        string         `json:"token_use,omitempty"`
	ClientID        string         `json:"client_id,omitempty"`
	Username        string         `json:"username,omitempty"`
	CognitoUsername string         `json:"cognito:username,omitempty"`
	Groups          []string       `json:"cognito:groups,omitempty"`
	Tier            string         `json:"custom:tier,omitempty"`
	StaffRole       string         `json:"custom:role,omitempty"`
	Permissions     PermissionList `json:"custom:permissions,omitempty"`
	jwt.RegisteredClaims

	// Custom carries every "custom:*" claim as decoded from the payload.
	Custom map[string]any `json:"-"`
}

// PermissionList decodes either a JSON array or a comma/space separated string,
// since user pool custom attributes can only hold strings.
type PermissionList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *PermissionList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	*l = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	return nil
}

// PrincipalUsername returns the best available username claim.
func (c *TokenClaims) PrincipalUsername() string {
	if c.Username != "" {
		return c.Username
	}
	if c.CognitoUsername != "" {
		return c.CognitoUsername
	}
	return c.Subject
}

// AuthToken converts the verified claims into the domain view.
func (c *TokenClaims) AuthToken() domain.AuthToken {
	tok := domain.AuthToken{
		Issuer:   c.Issuer,
		Audience: []string(c.Audience),
		Subject:  c.Subject,
		Username: c.PrincipalUsername(),
		Groups:   append([]string(nil), c.Groups...),
		Custom:   c.Custom,
	}
	if c.ExpiresAt != nil {
		tok.ExpiresAt = c.ExpiresAt.Time
	}
	if c.IssuedAt != nil {
		tok.IssuedAt = c.IssuedAt.Time
	}
	if c.NotBefore != nil {
		tok.NotBefore = c.NotBefore.Time
	}
	return tok
}

// ClaimsMapper turns verified claims into a Principal.
type ClaimsMapper struct {
	policy *Policy
	logger *zap.Logger
}

// NewClaimsMapper creates a mapper over policy.
func NewClaimsMapper(policy *Policy, logger *zap.Logger) *ClaimsMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaimsMapper{policy: policy, logger: logger}
}

// Map builds the Principal of claims in domain d. The highest ranking role
// wins regardless of claim order. Token embedded permissions only count
// when the static table already grants them to that role, and the session
// timeouts always come from the policy.
func (m *ClaimsMapper) Map(claims *TokenClaims, d domain.Domain) (domain.Principal, error) {
	if claims == nil {
		return domain.Principal{}, domain.NewAuthError(domain.KindTokenMalformed, errors.New("no claims"))
	}
	role := m.resolveRole(claims, d)
	if role.IsZero() {
		return domain.Principal{}, domain.NewAuthError(domain.KindInsufficientPermission,
			fmt.Errorf("token carries no %s role", d))
	}

	static := m.policy.Permissions(role)
	accepted := make([]domain.Permission, 0, len(claims.Permissions))
	for _, raw := range claims.Permissions {
		perm := domain.Permission(strings.TrimSpace(raw))
		if static.Contains(perm) {
			accepted = append(accepted, perm)
			continue
		}
		m.logger.Debug("dropping token permission outside role policy",
			zap.String("domain", string(d)),
			zap.String("role", role.Name()),
			zap.String("permission", string(perm)))
	}

	p := domain.Principal{
		ID:                 claims.Subject,
		Username:           claims.PrincipalUsername(),
		Domain:             d,
		Role:               role,
		Permissions:        static.Union(domain.NewPermissionSet(accepted...)),
		SessionTimeout:     m.policy.SessionTimeout(d),
		HardSessionTimeout: m.policy.HardSessionTimeout(d),
	}
	if claims.ExpiresAt != nil {
		p.TokenExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

func (m *ClaimsMapper) resolveRole(claims *TokenClaims, d domain.Domain) domain.Role {
	candidates := append([]string(nil), claims.Groups...)
	switch d {
	case domain.DomainCustomer:
		if claims.Tier != "" {
			candidates = append(candidates, claims.Tier)
		}
	case domain.DomainStaff:
		if claims.StaffRole != "" {
			candidates = append(candidates, claims.StaffRole)
		}
	}

	var best domain.Role
	for _, name := range candidates {
		role, err := domain.ParseRole(d, name)
		if err != nil {
			continue
		}
		if best.IsZero() || role.Precedence() > best.Precedence() {
			best = role
		}
	}
	return best
}
