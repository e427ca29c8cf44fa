package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/events"
	"github.com/spec-kit/dualauth/internal/idp"
	"github.com/spec-kit/dualauth/internal/mfa"
	"github.com/spec-kit/dualauth/internal/observability"
)

// TokenVerifier checks an access token against one domain.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string, d domain.Domain) (domain.Principal, error)
}

// LoginResult is a completed login or refresh.
type LoginResult struct {
	Principal domain.Principal
	Tokens    domain.TokenSet
}

// StaffLoginResult carries either a pending challenge or, when the second
// factor is not enforced, a completed login.
type StaffLoginResult struct {
	Challenge *domain.MFAChallenge
	Login     *LoginResult
}

// MFARetryError reports a wrong code on a challenge that still accepts attempts.
type MFARetryError struct {
	AttemptsRemaining int
	Err               error
}

func (e *MFARetryError) Error() string {
	return fmt.Sprintf("%v (%d attempts remaining)", e.Err, e.AttemptsRemaining)
}

func (e *MFARetryError) Unwrap() error { return e.Err }

// AuthService coordinates login, second factor and refresh flows of both domains.
type AuthService struct {
	providers  map[domain.Domain]idp.Provider
	verifier   TokenVerifier
	mfa        *mfa.Handler
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// AuthDependencies encapsulates collaborators of the auth service.
type AuthDependencies struct {
	CustomerProvider idp.Provider
	StaffProvider    idp.Provider
	Verifier         TokenVerifier
	MFA              *mfa.Handler
	Dispatcher       events.Dispatcher
	Metrics          *observability.Metrics
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = events.Nop()
	}
	return &AuthService{
		providers: map[domain.Domain]idp.Provider{
			domain.DomainCustomer: deps.CustomerProvider,
			domain.DomainStaff:    deps.StaffProvider,
		},
		verifier:   deps.Verifier,
		mfa:        deps.MFA,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
	}
}

// LoginCustomer authenticates a customer with username and password.
func (s *AuthService) LoginCustomer(ctx context.Context, username, password string) (*LoginResult, error) {
	provider := s.providers[domain.DomainCustomer]
	res, err := provider.InitiateAuth(ctx, username, password)
	if err != nil {
		return nil, s.loginFailed(ctx, domain.DomainCustomer, username, err)
	}
	if res.ChallengeRequired() || res.Tokens == nil {
		err := domain.NewAuthError(domain.KindProviderUnavailable,
			fmt.Errorf("customer pool asked for challenge %q", res.ChallengeName))
		return nil, s.loginFailed(ctx, domain.DomainCustomer, username, err)
	}
	return s.complete(ctx, domain.DomainCustomer, username, *res.Tokens, false)
}

// LoginStaff runs the password step of a staff login.
func (s *AuthService) LoginStaff(ctx context.Context, username, password string) (*StaffLoginResult, error) {
	next, err := s.mfa.Start(username).SubmitPassword(ctx, password)
	if err != nil {
		return nil, s.loginFailed(ctx, domain.DomainStaff, username, err)
	}
	switch st := next.(type) {
	case mfa.AwaitingMFACode:
		ch := st.Challenge()
		return &StaffLoginResult{Challenge: &ch}, nil
	case mfa.Authenticated:
		login, err := s.complete(ctx, domain.DomainStaff, st.Username, st.Tokens, false)
		if err != nil {
			return nil, err
		}
		return &StaffLoginResult{Login: login}, nil
	default:
		return nil, s.loginFailed(ctx, domain.DomainStaff, username,
			domain.NewAuthError(domain.KindProviderUnavailable, fmt.Errorf("unexpected login state %T", next)))
	}
}

// VerifyMFA answers the challenge identified by challengeToken.
func (s *AuthService) VerifyMFA(ctx context.Context, challengeToken, code string) (*LoginResult, error) {
	pending, err := s.mfa.Resume(ctx, challengeToken)
	if err != nil {
		return nil, err
	}
	next, err := pending.SubmitCode(ctx, code)
	switch st := next.(type) {
	case mfa.Authenticated:
		return s.complete(ctx, domain.DomainStaff, st.Username, st.Tokens, true)
	case mfa.AwaitingMFACode:
		if err == nil {
			err = domain.NewAuthError(domain.KindMFAIncorrect, errors.New("code not accepted"))
		}
		return nil, &MFARetryError{AttemptsRemaining: st.Challenge().AttemptsRemaining, Err: err}
	default:
		if err == nil {
			err = domain.NewAuthError(domain.KindMFAExpired, errors.New("challenge closed"))
		}
		return nil, err
	}
}

// Refresh exchanges a refresh token of domain d for fresh tokens.
func (s *AuthService) Refresh(ctx context.Context, d domain.Domain, refreshToken, username string) (*LoginResult, error) {
	provider, ok := s.providers[d]
	if !ok || provider == nil {
		return nil, domain.NewAuthError(domain.KindRefreshFailed, fmt.Errorf("unknown domain %q", d))
	}
	if refreshToken == "" {
		return nil, domain.NewAuthError(domain.KindRefreshFailed, errors.New("refresh token required"))
	}
	tokens, err := provider.Refresh(ctx, username, refreshToken)
	if err != nil {
		return nil, s.refreshFailed(ctx, d, username, err)
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	principal, err := s.verifier.Verify(ctx, tokens.AccessToken, d)
	if err != nil {
		return nil, s.refreshFailed(ctx, d, username, err)
	}
	return &LoginResult{Principal: principal, Tokens: tokens}, nil
}

// complete verifies the issued access token against its own domain.
func (s *AuthService) complete(ctx context.Context, d domain.Domain, username string, tokens domain.TokenSet, withMFA bool) (*LoginResult, error) {
	principal, err := s.verifier.Verify(ctx, tokens.AccessToken, d)
	if err != nil {
		s.logger.Error("provider issued a token that does not verify",
			zap.String("domain", string(d)), zap.Error(err))
		return nil, s.loginFailed(ctx, d, username, err)
	}
	if principal.TokenExpiresAt.After(tokens.ExpiresAt) || tokens.ExpiresAt.IsZero() {
		tokens.ExpiresAt = principal.TokenExpiresAt
	}

	s.metrics.RecordLogin(string(d), "succeeded")
	s.publish(ctx, events.EventLoginSucceeded, d, principal.Username, events.LoginPayload{
		Username: principal.Username,
		Role:     principal.Role.Name(),
		MFA:      withMFA,
	})
	return &LoginResult{Principal: principal, Tokens: tokens}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, d domain.Domain, username string, err error) error {
	kind, ok := domain.KindOf(err)
	if !ok {
		kind = domain.KindProviderUnavailable
		err = domain.NewAuthError(kind, err)
	}
	s.metrics.RecordLogin(string(d), string(kind))
	s.publish(ctx, events.EventLoginFailed, d, username, events.LoginPayload{Username: username, Kind: kind})
	return err
}

func (s *AuthService) refreshFailed(ctx context.Context, d domain.Domain, username string, err error) error {
	s.metrics.RecordLogin(string(d), "refresh_failed")
	kind, _ := domain.KindOf(err)
	s.publish(ctx, events.EventRefreshFailed, d, username, events.LoginPayload{Username: username, Kind: kind})
	if kind == domain.KindRefreshFailed {
		return err
	}
	return domain.NewAuthError(domain.KindRefreshFailed, err)
}

func (s *AuthService) publish(ctx context.Context, t events.EventType, d domain.Domain, subject string, payload events.LoginPayload) {
	if err := s.dispatcher.Publish(ctx, events.New(t, d, subject, payload)); err != nil {
		s.logger.Warn("publish auth event", zap.String("type", string(t)), zap.Error(err))
	}
}
