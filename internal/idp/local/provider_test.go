package local

import (
	"context"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/dualauth/internal/auth"
	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/idp"
)

func newTestProvider(t *testing.T, mfa bool, accounts ...Account) (*Provider, *MemoryAccounts) {
	t.Helper()
	key, err := auth.GenerateSigningKey()
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer("http://localhost/staff", "staff-app", key, 15*time.Minute)
	require.NoError(t, err)
	store := NewMemoryAccounts(accounts...)
	p := New(domain.DomainStaff, store, issuer, NewMemoryRefreshStore(), Options{MFA: mfa, TOTPWindow: 1}, nil)
	return p, store
}

func hashed(t *testing.T, pw string) string {
	t.Helper()
	h, err := auth.HashPassword(pw, bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func requireKind(t *testing.T, err error, want domain.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok, "not an auth error: %v", err)
	assert.Equal(t, want, kind)
}

func TestProvider_PasswordOnly(t *testing.T) {
	t.Parallel()
	p, _ := newTestProvider(t, false, Account{
		ID: "a-1", Username: "jane", PasswordHash: hashed(t, "s3cret"),
		Active: true, Confirmed: true, StaffRole: "manager", Groups: []string{"manager"},
	})

	res, err := p.InitiateAuth(context.Background(), "Jane", "s3cret")
	require.NoError(t, err)
	require.False(t, res.ChallengeRequired())
	require.NotNil(t, res.Tokens)
	assert.NotEmpty(t, res.Tokens.RefreshToken)
	assert.Equal(t, "Bearer", res.Tokens.TokenType)

	var claims auth.TokenClaims
	_, _, err = jwt.NewParser().ParseUnverified(res.Tokens.AccessToken, &claims)
	require.NoError(t, err)
	assert.Equal(t, "a-1", claims.Subject)
	assert.Equal(t, "jane", claims.Username)
	assert.Equal(t, "access", claims.TokenUse)
	assert.Equal(t, []string{"manager"}, claims.Groups)
}

func TestProvider_RejectsBadLogins(t *testing.T) {
	t.Parallel()
	p, _ := newTestProvider(t, false,
		Account{ID: "a-1", Username: "active", PasswordHash: hashed(t, "pw"), Active: true, Confirmed: true},
		Account{ID: "a-2", Username: "disabled", PasswordHash: hashed(t, "pw"), Active: false, Confirmed: true},
		Account{ID: "a-3", Username: "pending", PasswordHash: hashed(t, "pw"), Active: true, Confirmed: false},
	)
	ctx := context.Background()

	_, err := p.InitiateAuth(ctx, "nobody", "pw")
	requireKind(t, err, domain.KindInvalidCredentials)

	_, err = p.InitiateAuth(ctx, "active", "wrong")
	requireKind(t, err, domain.KindInvalidCredentials)

	_, err = p.InitiateAuth(ctx, "disabled", "pw")
	requireKind(t, err, domain.KindInvalidCredentials)

	_, err = p.InitiateAuth(ctx, "pending", "pw")
	requireKind(t, err, domain.KindAccountUnconfirmed)
}

func TestProvider_TOTPChallenge(t *testing.T) {
	t.Parallel()
	secret, _, err := GenerateTOTPSecret("dualauth", "ops")
	require.NoError(t, err)
	p, _ := newTestProvider(t, true, Account{
		ID: "s-1", Username: "ops", PasswordHash: hashed(t, "pw"),
		Active: true, Confirmed: true, StaffRole: "admin", MFASecret: secret,
	})
	now := time.Unix(1_900_000_000, 0)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	res, err := p.InitiateAuth(ctx, "ops", "pw")
	require.NoError(t, err)
	require.True(t, res.ChallengeRequired())
	assert.Equal(t, idp.ChallengeSoftwareToken, res.ChallengeName)
	assert.Nil(t, res.Tokens)

	_, err = p.RespondToMFA(ctx, "ops", res.Session, idp.ChallengeSoftwareToken, "000000")
	if TOTPCode(secret, now) != "000000" {
		requireKind(t, err, domain.KindMFAIncorrect)
	}

	code := TOTPCode(secret, now)
	tokens, err := p.RespondToMFA(ctx, "ops", res.Session, idp.ChallengeSoftwareToken, code)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)

	// the session is spent once answered
	_, err = p.RespondToMFA(ctx, "ops", res.Session, idp.ChallengeSoftwareToken, code)
	requireKind(t, err, domain.KindMFAExpired)
}

func TestProvider_TOTPReplayRejected(t *testing.T) {
	t.Parallel()
	secret, _, err := GenerateTOTPSecret("dualauth", "ops")
	require.NoError(t, err)
	p, _ := newTestProvider(t, true, Account{
		ID: "s-1", Username: "ops", PasswordHash: hashed(t, "pw"),
		Active: true, Confirmed: true, StaffRole: "admin", MFASecret: secret,
	})
	now := time.Unix(1_900_000_000, 0)
	p.now = func() time.Time { return now }
	ctx := context.Background()
	code := TOTPCode(secret, now)

	first, err := p.InitiateAuth(ctx, "ops", "pw")
	require.NoError(t, err)
	_, err = p.RespondToMFA(ctx, "ops", first.Session, idp.ChallengeSoftwareToken, code)
	require.NoError(t, err)

	second, err := p.InitiateAuth(ctx, "ops", "pw")
	require.NoError(t, err)
	_, err = p.RespondToMFA(ctx, "ops", second.Session, idp.ChallengeSoftwareToken, code)
	requireKind(t, err, domain.KindMFAIncorrect)
}

func TestProvider_MFASessionBoundToUser(t *testing.T) {
	t.Parallel()
	secret, _, err := GenerateTOTPSecret("dualauth", "ops")
	require.NoError(t, err)
	p, _ := newTestProvider(t, true, Account{
		ID: "s-1", Username: "ops", PasswordHash: hashed(t, "pw"),
		Active: true, Confirmed: true, MFASecret: secret,
	})
	ctx := context.Background()

	res, err := p.InitiateAuth(ctx, "ops", "pw")
	require.NoError(t, err)
	_, err = p.RespondToMFA(ctx, "mallory", res.Session, idp.ChallengeSoftwareToken, "123456")
	requireKind(t, err, domain.KindMFAExpired)

	_, err = p.RespondToMFA(ctx, "ops", "no-such-session", idp.ChallengeSoftwareToken, "123456")
	requireKind(t, err, domain.KindMFAExpired)
}

func TestProvider_RefreshRotates(t *testing.T) {
	t.Parallel()
	p, store := newTestProvider(t, false, Account{
		ID: "a-1", Username: "jane", PasswordHash: hashed(t, "pw"), Active: true, Confirmed: true,
	})
	ctx := context.Background()

	res, err := p.InitiateAuth(ctx, "jane", "pw")
	require.NoError(t, err)
	old := res.Tokens.RefreshToken

	next, err := p.Refresh(ctx, "jane", old)
	require.NoError(t, err)
	assert.NotEqual(t, old, next.RefreshToken)
	assert.NotEmpty(t, next.AccessToken)

	_, err = p.Refresh(ctx, "jane", old)
	requireKind(t, err, domain.KindRefreshFailed)

	_, err = p.Refresh(ctx, "someone-else", next.RefreshToken)
	requireKind(t, err, domain.KindRefreshFailed)

	// a disabled account cannot refresh
	res, err = p.InitiateAuth(ctx, "jane", "pw")
	require.NoError(t, err)
	acct, err := store.FindByUsername(ctx, "jane")
	require.NoError(t, err)
	acct.Active = false
	store.Put(*acct)
	_, err = p.Refresh(ctx, "jane", res.Tokens.RefreshToken)
	requireKind(t, err, domain.KindRefreshFailed)
}

func TestMemoryRefreshStore_SingleUse(t *testing.T) {
	t.Parallel()
	s := NewMemoryRefreshStore()
	ctx := context.Background()

	tok, err := s.Issue(ctx, RefreshRecord{AccountID: "a", Username: "u"}, time.Hour)
	require.NoError(t, err)
	assert.Contains(t, tok, "rt_")

	rec, next, err := s.Rotate(ctx, tok, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "u", rec.Username)

	_, _, err = s.Rotate(ctx, tok, time.Hour)
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)

	require.NoError(t, s.Revoke(ctx, next))
	_, _, err = s.Rotate(ctx, next, time.Hour)
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
}

func TestMemoryAccounts_MarkTOTPCounter(t *testing.T) {
	t.Parallel()
	s := NewMemoryAccounts(Account{ID: "s-1", Username: "Ops"})
	ctx := context.Background()

	require.NoError(t, s.MarkTOTPCounter(ctx, "s-1", 10))
	assert.ErrorIs(t, s.MarkTOTPCounter(ctx, "s-1", 10), ErrCodeReplayed)
	assert.ErrorIs(t, s.MarkTOTPCounter(ctx, "s-1", 9), ErrCodeReplayed)
	require.NoError(t, s.MarkTOTPCounter(ctx, "s-1", 11))
	assert.ErrorIs(t, s.MarkTOTPCounter(ctx, "missing", 1), ErrAccountNotFound)

	acct, err := s.FindByUsername(ctx, "ops")
	require.NoError(t, err)
	require.NotNil(t, acct.MFALastCounter)
	assert.Equal(t, int64(11), *acct.MFALastCounter)
}
