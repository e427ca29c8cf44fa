package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/dualauth/internal/domain"
)

const (
	testCustomerIssuer   = "https://idp.example.com/customer"
	testStaffIssuer      = "https://idp.example.com/staff"
	testCustomerAudience = "customer-app"
	testStaffAudience    = "staff-app"
)

var (
	keysOnce sync.Once
	keyA     *rsa.PrivateKey
	keyB     *rsa.PrivateKey
	keyErr   error
)

// testKeys returns two RSA keys shared by the whole package.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		keyA, keyErr = GenerateSigningKey()
		if keyErr != nil {
			return
		}
		keyB, keyErr = GenerateSigningKey()
	})
	require.NoError(t, keyErr)
	return keyA, keyB
}

type fixture struct {
	customer *TokenIssuer
	staff    *TokenIssuer
	cache    *KeyCache
	verifier *Verifier
	policy   *Policy
	now      time.Time
}

func newFixture(t *testing.T, opts ...VerifierOption) *fixture {
	t.Helper()
	ka, kb := testKeys(t)
	customer, err := NewTokenIssuer(testCustomerIssuer, testCustomerAudience, ka, 15*time.Minute)
	require.NoError(t, err)
	staff, err := NewTokenIssuer(testStaffIssuer, testStaffAudience, kb, 15*time.Minute)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	customer.now = func() time.Time { return now }
	staff.now = func() time.Time { return now }

	cache := NewKeyCache(map[domain.Domain]KeySource{
		domain.DomainCustomer: StaticKeySource(customer.KeySet),
		domain.DomainStaff:    StaticKeySource(staff.KeySet),
	}, KeyCacheOptions{TTL: time.Hour, MinRefetch: time.Minute}, nil, nil)

	policy := NewPolicy(24*time.Hour, 8*time.Hour)
	opts = append([]VerifierOption{WithClock(func() time.Time { return now })}, opts...)
	verifier := NewVerifier(map[domain.Domain]DomainVerification{
		domain.DomainCustomer: {Issuer: testCustomerIssuer, Audience: testCustomerAudience},
		domain.DomainStaff:    {Issuer: testStaffIssuer, Audience: testStaffAudience},
	}, cache, NewClaimsMapper(policy, nil), nil, opts...)

	return &fixture{customer: customer, staff: staff, cache: cache, verifier: verifier, policy: policy, now: now}
}

func issue(t *testing.T, ti *TokenIssuer, req IssueRequest) string {
	t.Helper()
	raw, _, err := ti.Issue(req)
	require.NoError(t, err)
	return raw
}

type countingSource struct {
	mu    sync.Mutex
	calls int
	set   *jose.JSONWebKeySet
	delay time.Duration
}

func (s *countingSource) FetchKeySet(context.Context) (*jose.JSONWebKeySet, error) {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.set, nil
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	got, ok := domain.KindOf(err)
	require.True(t, ok, "not an auth error: %v", err)
	require.Equal(t, kind, got, "error: %v", err)
}

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
