package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/dualauth/internal/api/dto"
	"github.com/spec-kit/dualauth/internal/api/http/handlers"
	"github.com/spec-kit/dualauth/internal/auth"
	"github.com/spec-kit/dualauth/internal/config"
	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/idp/local"
	"github.com/spec-kit/dualauth/internal/mfa"
	"github.com/spec-kit/dualauth/internal/observability"
	"github.com/spec-kit/dualauth/internal/service"
)

type testServer struct {
	app    *fiber.App
	secret []byte
}

func newTestServer(t *testing.T, rateLimit config.RateLimitConfig) *testServer {
	t.Helper()
	customerKey, err := auth.GenerateSigningKey()
	require.NoError(t, err)
	staffKey, err := auth.GenerateSigningKey()
	require.NoError(t, err)
	customerSigner, err := auth.NewTokenIssuer("http://localhost/auth/customer", "customer-app", customerKey, 15*time.Minute)
	require.NoError(t, err)
	staffSigner, err := auth.NewTokenIssuer("http://localhost/auth/staff", "staff-app", staffKey, 15*time.Minute)
	require.NoError(t, err)

	hash, err := auth.HashPassword("pw", bcrypt.MinCost)
	require.NoError(t, err)
	secret, _, err := local.GenerateTOTPSecret("dualauth", "ops")
	require.NoError(t, err)

	customerIdP := local.New(domain.DomainCustomer, local.NewMemoryAccounts(local.Account{
		ID: "c-1", Username: "alice", PasswordHash: hash, Active: true, Confirmed: true, Tier: "individual",
	}), customerSigner, local.NewMemoryRefreshStore(), local.Options{}, nil)
	staffIdP := local.New(domain.DomainStaff, local.NewMemoryAccounts(local.Account{
		ID: "s-1", Username: "ops", PasswordHash: hash, Active: true, Confirmed: true,
		Groups: []string{"manager"}, MFASecret: secret,
	}), staffSigner, local.NewMemoryRefreshStore(), local.Options{MFA: true, TOTPWindow: 1}, nil)

	cache := auth.NewKeyCache(map[domain.Domain]auth.KeySource{
		domain.DomainCustomer: auth.StaticKeySource(customerSigner.KeySet),
		domain.DomainStaff:    auth.StaticKeySource(staffSigner.KeySet),
	}, auth.KeyCacheOptions{}, nil, nil)
	verifier := auth.NewVerifier(map[domain.Domain]auth.DomainVerification{
		domain.DomainCustomer: {Issuer: customerSigner.Issuer(), Audience: "customer-app"},
		domain.DomainStaff:    {Issuer: staffSigner.Issuer(), Audience: "staff-app"},
	}, cache, auth.NewClaimsMapper(auth.NewPolicy(24*time.Hour, 8*time.Hour), nil), nil)

	svc := service.NewAuthService(service.AuthDependencies{
		CustomerProvider: customerIdP,
		StaffProvider:    staffIdP,
		Verifier:         verifier,
		MFA:              mfa.NewHandler(staffIdP, mfa.NewMemoryStore(nil), mfa.Options{Required: true}, nil, nil, nil),
	}, nil)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("dualauth", "test", nil),
		Customer:       handlers.NewCustomerHandler(svc),
		Staff:          handlers.NewStaffHandler(svc),
		Authz:          handlers.NewAuthzHandler(),
		JWKS:           handlers.NewJWKSHandler(map[domain.Domain]*auth.TokenIssuer{domain.DomainCustomer: customerSigner}),
		Keys:           handlers.NewKeysHandler(cache),
		AuthMiddleware: auth.NewAuthMiddleware(verifier),
		RateLimit:      rateLimit,
		Gatherer:       registry,
	})
	return &testServer{app: app, secret: secret}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func (s *testServer) customerLogin(t *testing.T) dto.LoginResponse {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/auth/customer/login", "", dto.LoginRequest{Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusOK, status)
	return decode[dto.LoginResponse](t, env.Data)
}

func (s *testServer) staffLogin(t *testing.T) dto.LoginResponse {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/auth/staff/login", "", dto.LoginRequest{Username: "ops", Password: "pw"})
	require.Equal(t, http.StatusOK, status)
	started := decode[dto.StaffLoginResponse](t, env.Data)
	require.True(t, started.MFARequired)
	require.NotNil(t, started.Challenge)

	status, env = s.do(t, http.MethodPost, "/auth/staff/mfa-verify", "", dto.MFAVerifyRequest{
		ChallengeToken: started.Challenge.ChallengeToken,
		Code:           local.TOTPCode(s.secret, time.Now()),
	})
	require.Equal(t, http.StatusOK, status, "%+v", env.Error)
	return decode[dto.LoginResponse](t, env.Data)
}

func TestRoutes_CustomerLoginAndMe(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, config.RateLimitConfig{})

	login := s.customerLogin(t)
	assert.Equal(t, "customer", login.Principal.Domain)
	assert.Equal(t, "individual", login.Principal.Role)
	assert.Equal(t, 1440, login.Principal.SessionTimeoutMinutes)
	assert.Equal(t, 30*1440, login.Principal.HardSessionTimeoutMinutes)

	status, env := s.do(t, http.MethodGet, "/customer/me", login.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	me := decode[dto.PrincipalResponse](t, env.Data)
	assert.Equal(t, "alice", me.Username)
}

func TestRoutes_WrongPasswordIsActionable(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, config.RateLimitConfig{})

	status, env := s.do(t, http.MethodPost, "/auth/customer/login", "", dto.LoginRequest{Username: "alice", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	status, env = s.do(t, http.MethodPost, "/auth/customer/login", "", dto.LoginRequest{Username: "alice"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
}

func TestRoutes_CrossDomainTokensGetGenericError(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, config.RateLimitConfig{})
	customer := s.customerLogin(t)
	staff := s.staffLogin(t)

	status, crossA := s.do(t, http.MethodGet, "/staff/me", customer.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, crossB := s.do(t, http.MethodGet, "/customer/me", staff.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, garbage := s.do(t, http.MethodGet, "/customer/me", "not.a.jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	require.NotNil(t, crossA.Error)
	assert.Equal(t, "UNAUTHENTICATED", crossA.Error.Code)
	assert.Equal(t, crossA.Error, crossB.Error)
	assert.Equal(t, crossA.Error, garbage.Error)
}

func TestRoutes_SigningKeysNeedStaffRank(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, config.RateLimitConfig{})
	customer := s.customerLogin(t)
	manager := s.staffLogin(t)
	assert.Equal(t, 480, manager.Principal.HardSessionTimeoutMinutes)

	status, _ := s.do(t, http.MethodGet, "/staff/signing-keys", customer.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := s.do(t, http.MethodGet, "/staff/signing-keys", manager.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, "%+v", env.Error)
	keys := decode[map[string]int](t, env.Data)
	assert.Positive(t, keys["cached_keys"])

	status, env = s.do(t, http.MethodPost, "/staff/signing-keys/refresh", manager.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
}

func TestRoutes_StaffMFAWrongCodeReportsAttempts(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, config.RateLimitConfig{})

	_, env := s.do(t, http.MethodPost, "/auth/staff/login", "", dto.LoginRequest{Username: "ops", Password: "pw"})
	started := decode[dto.StaffLoginResponse](t, env.Data)
	require.NotNil(t, started.Challenge)

	valid := map[string]bool{}
	for _, off := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		valid[local.TOTPCode(s.secret, time.Now().Add(off))] = true
	}
	wrong := "000000"
	if valid[wrong] {
		wrong = "111111"
	}

	status, env := s.do(t, http.MethodPost, "/auth/staff/mfa-verify", "", dto.MFAVerifyRequest{
		ChallengeToken: started.Challenge.ChallengeToken, Code: wrong,
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "MFA_INCORRECT", env.Error.Code)
	assert.EqualValues(t, 2, env.Error.Details["attempts_remaining"])

	status, env = s.do(t, http.MethodPost, "/auth/staff/mfa-verify", "", dto.MFAVerifyRequest{
		ChallengeToken: "3b1f6f0e-6d4c-4a43-9f5e-9d1f0c0ad111", Code: "123456",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "MFA_EXPIRED", env.Error.Code)
}

func TestRoutes_AuthzCheck(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, config.RateLimitConfig{})
	staff := s.staffLogin(t)

	status, env := s.do(t, http.MethodPost, "/authz/staff/check", staff.Tokens.AccessToken,
		dto.AuthzCheckRequest{Permissions: []string{"listing:moderate"}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "allow", decode[dto.AuthzCheckResponse](t, env.Data).Decision)

	status, env = s.do(t, http.MethodPost, "/authz/staff/check", staff.Tokens.AccessToken,
		dto.AuthzCheckRequest{Role: "admin"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "deny", decode[dto.AuthzCheckResponse](t, env.Data).Decision)

	status, _ = s.do(t, http.MethodPost, "/authz/staff/check", staff.Tokens.AccessToken,
		dto.AuthzCheckRequest{Role: "premium"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/authz/customer/check", staff.Tokens.AccessToken,
		dto.AuthzCheckRequest{Permissions: []string{"profile:read"}})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRoutes_Refresh(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, config.RateLimitConfig{})
	login := s.customerLogin(t)

	status, env := s.do(t, http.MethodPost, "/auth/customer/refresh", "", dto.RefreshRequest{
		RefreshToken: login.Tokens.RefreshToken, Username: "alice",
	})
	require.Equal(t, http.StatusOK, status)
	refreshed := decode[dto.LoginResponse](t, env.Data)
	assert.NotEqual(t, login.Tokens.RefreshToken, refreshed.Tokens.RefreshToken)

	status, env = s.do(t, http.MethodPost, "/auth/staff/refresh", "", dto.RefreshRequest{
		RefreshToken: refreshed.Tokens.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "SESSION_EXPIRED", env.Error.Code)
}

func TestRoutes_JWKSAndOps(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, config.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/customer/.well-known/jwks.json", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&set))
	resp.Body.Close()
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "RS256", set.Keys[0]["alg"])

	status, _ := s.do(t, http.MethodGet, "/auth/staff/.well-known/jwks.json", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err = s.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, string(body), "dualauth_http_requests_total")
}

func TestRoutes_LoginRateLimited(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, config.RateLimitConfig{LoginRequestsPerSecond: 0.001, LoginBurst: 2})

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, http.MethodPost, "/auth/customer/login", "", dto.LoginRequest{Username: "alice", Password: "nope"})
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	status, env := s.do(t, http.MethodPost, "/auth/customer/login", "", dto.LoginRequest{Username: "alice", Password: "pw"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "TOO_MANY_REQUESTS", env.Error.Code)
}
