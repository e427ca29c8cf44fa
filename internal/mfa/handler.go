// Package mfa drives the staff login state machine between the password
// step and token issuance.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/events"
	"github.com/spec-kit/dualauth/internal/idp"
	"github.com/spec-kit/dualauth/internal/observability"
)

// Step is one state of the staff login. Only the types in this package implement it.
type Step interface {
	step()
}

// AwaitingPassword is the initial state.
type AwaitingPassword struct {
	h        *Handler
	username string
}

// AwaitingMFACode holds an active challenge. It is the only state that
// accepts a code.
type AwaitingMFACode struct {
	h         *Handler
	challenge domain.MFAChallenge
}

// Authenticated is terminal: the provider issued tokens.
type Authenticated struct {
	Username string
	Tokens   domain.TokenSet
}

// Failed is terminal: the caller has to start over from AwaitingPassword.
type Failed struct {
	Reason domain.ErrorKind
}

func (AwaitingPassword) step() {}
func (AwaitingMFACode) step()  {}
func (Authenticated) step()    {}
func (Failed) step()           {}

// Options tunes challenge issuance.
type Options struct {
	TTL         time.Duration
	MaxAttempts int
	// Required rejects provider responses that skip the second factor.
	Required bool
	// Clock defaults to time.Now. Pass the same clock to NewMemoryStore.
	Clock func() time.Time
}

// Handler creates and advances staff login states.
type Handler struct {
	provider   idp.Provider
	store      ChallengeStore
	opts       Options
	logger     *zap.Logger
	metrics    *observability.Metrics
	dispatcher events.Dispatcher
	now        func() time.Time
}

// NewHandler builds a handler over the staff provider.
func NewHandler(provider idp.Provider, store ChallengeStore, opts Options, logger *zap.Logger, metrics *observability.Metrics, dispatcher events.Dispatcher) *Handler {
	if opts.TTL <= 0 {
		opts.TTL = 3 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = events.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Handler{
		provider:   provider,
		store:      store,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
		dispatcher: dispatcher,
		now:        opts.Clock,
	}
}

// Start begins a login for username.
func (h *Handler) Start(username string) AwaitingPassword {
	return AwaitingPassword{h: h, username: username}
}

// Resume reloads the AwaitingMFACode state of challengeToken. Unknown and
// expired challenges report MFAExpired.
func (h *Handler) Resume(ctx context.Context, challengeToken string) (AwaitingMFACode, error) {
	if _, err := uuid.Parse(challengeToken); err != nil {
		return AwaitingMFACode{}, domain.NewAuthError(domain.KindMFAExpired, errors.New("unknown challenge"))
	}
	ch, err := h.store.Get(ctx, challengeToken)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return AwaitingMFACode{}, domain.NewAuthError(domain.KindMFAExpired, err)
		}
		return AwaitingMFACode{}, domain.NewAuthError(domain.KindProviderUnavailable, err)
	}
	if ch.Expired(h.now()) {
		_ = h.store.Delete(ctx, challengeToken)
		return AwaitingMFACode{}, domain.NewAuthError(domain.KindMFAExpired, errors.New("challenge expired"))
	}
	return AwaitingMFACode{h: h, challenge: ch}, nil
}

// Username returns the login name being authenticated.
func (s AwaitingPassword) Username() string { return s.username }

// SubmitPassword runs the password step. It returns AwaitingMFACode when the
// provider asks for a second factor, Authenticated when MFA is optional and
// none was requested, and Failed otherwise.
func (s AwaitingPassword) SubmitPassword(ctx context.Context, password string) (Step, error) {
	h := s.h
	res, err := h.provider.InitiateAuth(ctx, s.username, password)
	if err != nil {
		return failWith(err, domain.KindProviderUnavailable)
	}

	if !res.ChallengeRequired() {
		if h.opts.Required || res.Tokens == nil {
			h.logger.Warn("staff login completed without second factor", zap.String("username", s.username))
			return Failed{Reason: domain.KindMFARequired},
				domain.NewAuthError(domain.KindMFARequired, errors.New("provider skipped the second factor"))
		}
		return Authenticated{Username: s.username, Tokens: *res.Tokens}, nil
	}
	if !idp.SupportedChallenge(res.ChallengeName) {
		return Failed{Reason: domain.KindProviderUnavailable},
			domain.NewAuthError(domain.KindProviderUnavailable, fmt.Errorf("unsupported challenge %q", res.ChallengeName))
	}

	ch := domain.MFAChallenge{
		ChallengeToken:    uuid.NewString(),
		ExpiresAt:         h.now().Add(h.opts.TTL),
		AttemptsRemaining: h.opts.MaxAttempts,
		Username:          s.username,
		ProviderSession:   res.Session,
		ChallengeName:     res.ChallengeName,
	}
	if err := h.store.Save(ctx, ch); err != nil {
		return Failed{Reason: domain.KindProviderUnavailable}, domain.NewAuthError(domain.KindProviderUnavailable, err)
	}

	h.metrics.RecordMFA("issued")
	h.publish(ctx, events.EventMFAChallengeIssued, ch, "")
	return AwaitingMFACode{h: h, challenge: ch}, nil
}

// Challenge returns the client facing view of the pending challenge.
func (s AwaitingMFACode) Challenge() domain.MFAChallenge {
	return domain.MFAChallenge{
		ChallengeToken:    s.challenge.ChallengeToken,
		ExpiresAt:         s.challenge.ExpiresAt,
		AttemptsRemaining: s.challenge.AttemptsRemaining,
	}
}

// SubmitCode answers the challenge. An attempt is reserved before the
// provider sees the code, so an exhausted or expired challenge can never
// reach Authenticated.
func (s AwaitingMFACode) SubmitCode(ctx context.Context, code string) (Step, error) {
	h := s.h
	ch := s.challenge

	if ch.Expired(h.now()) {
		return h.discard(ctx, ch, domain.KindMFAExpired, "expired")
	}

	remaining, err := h.store.ConsumeAttempt(ctx, ch.ChallengeToken)
	switch {
	case errors.Is(err, ErrChallengeNotFound):
		return h.discard(ctx, ch, domain.KindMFAExpired, "expired")
	case errors.Is(err, ErrNoAttemptsLeft):
		return h.discard(ctx, ch, domain.KindMFAIncorrect, "exhausted")
	case err != nil:
		return s, domain.NewAuthError(domain.KindProviderUnavailable, err)
	}

	tokens, err := h.provider.RespondToMFA(ctx, ch.Username, ch.ProviderSession, ch.ChallengeName, code)
	if err == nil {
		if delErr := h.store.Delete(ctx, ch.ChallengeToken); delErr != nil {
			h.logger.Warn("discard answered challenge", zap.Error(delErr))
		}
		h.metrics.RecordMFA("succeeded")
		return Authenticated{Username: ch.Username, Tokens: tokens}, nil
	}

	kind, _ := domain.KindOf(err)
	switch kind {
	case domain.KindMFAIncorrect:
		if remaining == 0 {
			return h.discard(ctx, ch, domain.KindMFAIncorrect, "exhausted")
		}
		ch.AttemptsRemaining = remaining
		h.metrics.RecordMFA("incorrect")
		h.publish(ctx, events.EventMFAFailed, ch, domain.KindMFAIncorrect)
		return AwaitingMFACode{h: h, challenge: ch}, domain.NewAuthError(domain.KindMFAIncorrect,
			fmt.Errorf("%d attempts remaining", remaining))
	case domain.KindMFAExpired, domain.KindInvalidCredentials:
		return h.discard(ctx, ch, domain.KindMFAExpired, "expired")
	default:
		ch.AttemptsRemaining = remaining
		return AwaitingMFACode{h: h, challenge: ch}, err
	}
}

func (h *Handler) discard(ctx context.Context, ch domain.MFAChallenge, kind domain.ErrorKind, outcome string) (Step, error) {
	if err := h.store.Delete(ctx, ch.ChallengeToken); err != nil {
		h.logger.Warn("discard challenge", zap.Error(err))
	}
	h.metrics.RecordMFA(outcome)
	ch.AttemptsRemaining = 0
	h.publish(ctx, events.EventMFAFailed, ch, kind)
	return Failed{Reason: kind}, domain.NewAuthError(kind, fmt.Errorf("challenge %s, restart login", outcome))
}

func (h *Handler) publish(ctx context.Context, t events.EventType, ch domain.MFAChallenge, kind domain.ErrorKind) {
	payload := events.MFAPayload{
		Username:          ch.Username,
		AttemptsRemaining: ch.AttemptsRemaining,
		ExpiresAt:         ch.ExpiresAt,
		Kind:              kind,
	}
	if err := h.dispatcher.Publish(ctx, events.New(t, domain.DomainStaff, ch.Username, payload)); err != nil {
		h.logger.Warn("publish mfa event", zap.Error(err))
	}
}

func failWith(err error, fallback domain.ErrorKind) (Step, error) {
	kind, ok := domain.KindOf(err)
	if !ok {
		kind = fallback
		err = domain.NewAuthError(kind, err)
	}
	return Failed{Reason: kind}, err
}
