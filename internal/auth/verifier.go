package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/events"
	"github.com/spec-kit/dualauth/internal/observability"
)

// KeyResolver looks up a verification key by domain and key id.
type KeyResolver interface {
	Key(ctx context.Context, d domain.Domain, kid string) (*jose.JSONWebKey, error)
}

// DomainVerification is what a token of one domain must satisfy.
type DomainVerification struct {
	Issuer     string
	Audience   string
	Algorithms []string
	Leeway     time.Duration
}

// Verifier checks bearer tokens against the configuration of an expected domain.
type Verifier struct {
	domains    map[domain.Domain]DomainVerification
	keys       KeyResolver
	mapper     *ClaimsMapper
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source used for exp/nbf checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithDispatcher publishes rejections as events.
func WithDispatcher(d events.Dispatcher) VerifierOption {
	return func(v *Verifier) { v.dispatcher = d }
}

// WithMetrics records verification outcomes.
func WithMetrics(m *observability.Metrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier builds a verifier. Domains without explicit algorithms accept RS256 only.
func NewVerifier(domains map[domain.Domain]DomainVerification, keys KeyResolver, mapper *ClaimsMapper, logger *zap.Logger, opts ...VerifierOption) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := make(map[domain.Domain]DomainVerification, len(domains))
	for d, dv := range domains {
		if len(dv.Algorithms) == 0 {
			dv.Algorithms = []string{jwt.SigningMethodRS256.Alg()}
		}
		cfg[d] = dv
	}
	v := &Verifier{
		domains:    cfg,
		keys:       keys,
		mapper:     mapper,
		dispatcher: events.Nop(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates raw against the expected domain and maps it to a Principal.
func (v *Verifier) Verify(ctx context.Context, raw string, expected domain.Domain) (domain.Principal, error) {
	claims, err := v.VerifyClaims(ctx, raw, expected)
	if err != nil {
		return domain.Principal{}, err
	}
	p, err := v.mapper.Map(claims, expected)
	if err != nil {
		v.metrics.RecordVerification(string(expected), "no_role")
		return domain.Principal{}, err
	}
	return p, nil
}

// VerifyClaims runs every token check and returns the verified claims. The
// issuer is matched before the signature is looked at so a token from the
// other domain is reported as WrongIssuer.
func (v *Verifier) VerifyClaims(ctx context.Context, raw string, expected domain.Domain) (*TokenClaims, error) {
	dv, ok := v.domains[expected]
	if !ok {
		return nil, v.reject(ctx, expected, domain.KindTokenMalformed, fmt.Errorf("domain %q not configured", expected), "", "")
	}

	raw = strings.TrimSpace(raw)
	payload := jwt.MapClaims{}
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, payload)
	if err != nil {
		return nil, v.reject(ctx, expected, domain.KindTokenMalformed, err, "", "")
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, v.reject(ctx, expected, domain.KindTokenMalformed, errors.New("missing kid header"), "", "")
	}
	iss, _ := payload["iss"].(string)
	if iss != dv.Issuer {
		return nil, v.reject(ctx, expected, domain.KindWrongIssuer, fmt.Errorf("issuer %q", iss), kid, iss)
	}

	key, err := v.keys.Key(ctx, expected, kid)
	if err != nil {
		kind, ok := domain.KindOf(err)
		if !ok {
			kind = domain.KindUnknownKey
		}
		return nil, v.reject(ctx, expected, kind, err, kid, iss)
	}

	claims := &TokenClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if key.Algorithm != "" && t.Method.Alg() != key.Algorithm {
			return nil, fmt.Errorf("key %s is bound to %s", kid, key.Algorithm)
		}
		return key.Key, nil
	},
		jwt.WithValidMethods(dv.Algorithms),
		jwt.WithIssuer(dv.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(dv.Leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, v.reject(ctx, expected, kindOfJWTError(err), err, kid, iss)
	}

	if !audienceMatches(claims, dv.Audience) {
		return nil, v.reject(ctx, expected, domain.KindWrongAudience,
			fmt.Errorf("audience %v client %q", []string(claims.Audience), claims.ClientID), kid, iss)
	}
	if claims.TokenUse != "" && claims.TokenUse != "access" {
		return nil, v.reject(ctx, expected, domain.KindTokenMalformed,
			fmt.Errorf("token_use %q not accepted", claims.TokenUse), kid, iss)
	}

	claims.Custom = customClaims(payload)
	v.metrics.RecordVerification(string(expected), "ok")
	return claims, nil
}

func kindOfJWTError(err error) domain.ErrorKind {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return domain.KindBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.KindTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return domain.KindTokenNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return domain.KindWrongIssuer
	default:
		return domain.KindTokenMalformed
	}
}

// audienceMatches accepts either an aud entry or the client_id claim, since
// access tokens of some providers carry only client_id.
func audienceMatches(claims *TokenClaims, audience string) bool {
	if audience == "" {
		return false
	}
	return slices.Contains([]string(claims.Audience), audience) || claims.ClientID == audience
}

func customClaims(payload jwt.MapClaims) map[string]any {
	out := make(map[string]any)
	for k, val := range payload {
		if strings.HasPrefix(k, "custom:") {
			out[k] = val
		}
	}
	return out
}

func (v *Verifier) reject(ctx context.Context, d domain.Domain, kind domain.ErrorKind, cause error, kid, iss string) error {
	v.metrics.RecordVerification(string(d), strings.ToLower(string(kind)))

	eventType := events.EventTokenRejected
	if kind.SecurityRelevant() {
		eventType = events.EventSecurityViolation
		v.metrics.RecordSecurityEvent(string(d), string(kind))
		v.logger.Warn("token rejected",
			zap.Bool("security", true),
			zap.String("domain", string(d)),
			zap.String("kind", string(kind)),
			zap.String("kid", kid),
			zap.String("issuer", iss),
			zap.Error(cause))
	} else {
		v.logger.Debug("token rejected",
			zap.String("domain", string(d)),
			zap.String("kind", string(kind)),
			zap.Error(cause))
	}

	payload := events.RejectionPayload{Kind: kind, KeyID: kid, Issuer: iss, Detail: cause.Error()}
	if err := v.dispatcher.Publish(ctx, events.New(eventType, d, "", payload)); err != nil {
		v.logger.Warn("publish rejection event", zap.Error(err))
	}
	return domain.NewAuthError(kind, cause)
}
