// Package local is a development identity provider: accounts in Postgres,
// bcrypt passwords, TOTP second factor and RS256 access tokens. It stands in
// for the hosted user pools in local runs and tests.
package local

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/spec-kit/dualauth/internal/auth"
	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/idp"
)

// Options tunes the provider.
type Options struct {
	// MFA asks enrolled accounts for a TOTP code after the password.
	MFA        bool
	TOTPWindow int
	PendingTTL time.Duration
	RefreshTTL time.Duration
}

type pendingAuth struct {
	accountID string
	username  string
}

// Provider implements idp.Provider for one domain.
type Provider struct {
	domain   domain.Domain
	accounts AccountStore
	issuer   *auth.TokenIssuer
	refresh  RefreshStore
	pending  *gocache.Cache
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// New builds a provider that signs with issuer.
func New(d domain.Domain, accounts AccountStore, issuer *auth.TokenIssuer, refresh RefreshStore, opts Options, logger *zap.Logger) *Provider {
	if opts.TOTPWindow < 0 {
		opts.TOTPWindow = 0
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 5 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		domain:   d,
		accounts: accounts,
		issuer:   issuer,
		refresh:  refresh,
		pending:  gocache.New(opts.PendingTTL, time.Minute),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// InitiateAuth checks the password and either issues tokens or opens a TOTP challenge.
func (p *Provider) InitiateAuth(ctx context.Context, username, password string) (idp.AuthResult, error) {
	acct, err := p.accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			_ = auth.BurnPasswordCheck(password)
			return idp.AuthResult{}, domain.NewAuthError(domain.KindInvalidCredentials, errors.New("unknown user or wrong password"))
		}
		return idp.AuthResult{}, domain.NewAuthError(domain.KindProviderUnavailable, err)
	}
	if err := auth.ComparePassword(acct.PasswordHash, password); err != nil {
		return idp.AuthResult{}, domain.NewAuthError(domain.KindInvalidCredentials, errors.New("unknown user or wrong password"))
	}
	if !acct.Active {
		return idp.AuthResult{}, domain.NewAuthError(domain.KindInvalidCredentials, errors.New("account disabled"))
	}
	if !acct.Confirmed {
		return idp.AuthResult{}, domain.NewAuthError(domain.KindAccountUnconfirmed, errors.New("account not confirmed"))
	}

	if p.opts.MFA && len(acct.MFASecret) > 0 {
		session, err := randomSession()
		if err != nil {
			return idp.AuthResult{}, domain.NewAuthError(domain.KindProviderUnavailable, err)
		}
		p.pending.SetDefault(session, pendingAuth{accountID: acct.ID, username: acct.Username})
		return idp.AuthResult{ChallengeName: idp.ChallengeSoftwareToken, Session: session}, nil
	}

	tokens, err := p.issue(ctx, acct)
	if err != nil {
		return idp.AuthResult{}, err
	}
	return idp.AuthResult{Tokens: &tokens}, nil
}

// RespondToMFA verifies a TOTP code against the pending session.
func (p *Provider) RespondToMFA(ctx context.Context, username, session, challengeName, code string) (domain.TokenSet, error) {
	if challengeName != idp.ChallengeSoftwareToken {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindMFAExpired, fmt.Errorf("unsupported challenge %q", challengeName))
	}
	v, ok := p.pending.Get(session)
	if !ok {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindMFAExpired, errors.New("no pending authentication"))
	}
	pending := v.(pendingAuth)
	if !strings.EqualFold(pending.username, username) {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindMFAExpired, errors.New("session belongs to another user"))
	}

	acct, err := p.accounts.FindByUsername(ctx, pending.username)
	if err != nil {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindProviderUnavailable, err)
	}
	valid, counter := VerifyTOTP(acct.MFASecret, code, p.now(), p.opts.TOTPWindow, acct.MFALastCounter)
	if !valid {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindMFAIncorrect, errors.New("code mismatch"))
	}
	if err := p.accounts.MarkTOTPCounter(ctx, acct.ID, counter); err != nil {
		if errors.Is(err, ErrCodeReplayed) {
			return domain.TokenSet{}, domain.NewAuthError(domain.KindMFAIncorrect, err)
		}
		return domain.TokenSet{}, domain.NewAuthError(domain.KindProviderUnavailable, err)
	}
	p.pending.Delete(session)
	return p.issue(ctx, acct)
}

// Refresh rotates the refresh token and issues a new access token.
func (p *Provider) Refresh(ctx context.Context, username, refreshToken string) (domain.TokenSet, error) {
	rec, next, err := p.refresh.Rotate(ctx, refreshToken, p.opts.RefreshTTL)
	if err != nil {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindRefreshFailed, err)
	}
	if username != "" && !strings.EqualFold(rec.Username, username) {
		_ = p.refresh.Revoke(ctx, next)
		p.logger.Warn("refresh token presented for another user", zap.String("domain", string(p.domain)))
		return domain.TokenSet{}, domain.NewAuthError(domain.KindRefreshFailed, errors.New("refresh token does not belong to user"))
	}
	acct, err := p.accounts.FindByUsername(ctx, rec.Username)
	if err != nil || !acct.Active || acct.ID != rec.AccountID {
		_ = p.refresh.Revoke(ctx, next)
		return domain.TokenSet{}, domain.NewAuthError(domain.KindRefreshFailed, errors.New("account no longer active"))
	}

	access, expiresAt, err := p.issuer.Issue(p.issueRequest(acct))
	if err != nil {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindRefreshFailed, err)
	}
	return domain.TokenSet{
		AccessToken:  access,
		RefreshToken: next,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	}, nil
}

// Issuer exposes the signer, e.g. for publishing its key set.
func (p *Provider) Issuer() *auth.TokenIssuer { return p.issuer }

// PurgeExpired drops expired pending sessions.
func (p *Provider) PurgeExpired() {
	p.pending.DeleteExpired()
}

func (p *Provider) issueRequest(acct *Account) auth.IssueRequest {
	return auth.IssueRequest{
		Subject:   acct.ID,
		Username:  acct.Username,
		Groups:    acct.Groups,
		Tier:      acct.Tier,
		StaffRole: acct.StaffRole,
	}
}

func (p *Provider) issue(ctx context.Context, acct *Account) (domain.TokenSet, error) {
	access, expiresAt, err := p.issuer.Issue(p.issueRequest(acct))
	if err != nil {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindProviderUnavailable, err)
	}
	refresh, err := p.refresh.Issue(ctx, RefreshRecord{AccountID: acct.ID, Username: acct.Username}, p.opts.RefreshTTL)
	if err != nil {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindProviderUnavailable, err)
	}
	return domain.TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	}, nil
}

func randomSession() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
