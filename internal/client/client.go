package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/dualauth/internal/api/dto"
	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/session"
)

// API is the server surface the client needs; Transport implements it.
type API interface {
	session.Refresher
	LoginCustomer(ctx context.Context, username, password string) (dto.LoginResponse, error)
	LoginStaff(ctx context.Context, username, password string) (dto.StaffLoginResponse, error)
	VerifyMFA(ctx context.Context, challengeToken, code string) (dto.LoginResponse, error)
}

// Options configures the client.
type Options struct {
	// Sessions holds the session options per domain.
	Sessions map[domain.Domain]session.Options
	// OnLogout is told about every forced or explicit logout.
	OnLogout func(d domain.Domain, reason error)
}

// Client owns one session manager per domain. A customer login never
// touches the staff slot and vice versa.
type Client struct {
	api      API
	store    *SlotStore
	logger   *zap.Logger
	onLogout func(domain.Domain, error)
	managers map[domain.Domain]*session.Manager

	// persistMu orders slot writes of the change and logout handlers.
	persistMu sync.Mutex
}

// New builds a client. store may be nil to keep sessions in memory only.
func New(api API, store *SlotStore, opts Options, logger *zap.Logger, sessionOpts ...session.Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		api:      api,
		store:    store,
		logger:   logger,
		onLogout: opts.OnLogout,
		managers: make(map[domain.Domain]*session.Manager, len(domain.Domains)),
	}
	if c.onLogout == nil {
		c.onLogout = func(domain.Domain, error) {}
	}
	for _, d := range domain.Domains {
		options := append([]session.Option{
			session.WithChangeHandler(func(s session.Session) { c.persist(d, s) }),
			session.WithLogoutHandler(func(reason error) { c.loggedOut(d, reason) }),
		}, sessionOpts...)
		c.managers[d] = session.NewManager(d, opts.Sessions[d], api, logger.Named(string(d)), options...)
	}
	return c
}

// Manager returns the session manager of d.
func (c *Client) Manager(d domain.Domain) *session.Manager {
	return c.managers[d]
}

// LoginCustomer signs a customer in and starts the customer session.
func (c *Client) LoginCustomer(ctx context.Context, username, password string) (domain.Principal, error) {
	res, err := c.api.LoginCustomer(ctx, username, password)
	if err != nil {
		return domain.Principal{}, err
	}
	return c.start(domain.DomainCustomer, res)
}

// StaffChallenge is a pending staff login waiting for its second factor.
type StaffChallenge struct {
	client            *Client
	token             string
	ExpiresAt         time.Time
	AttemptsRemaining int
	principal         *domain.Principal
}

// Pending reports whether a code still has to be submitted.
func (s *StaffChallenge) Pending() bool { return s.principal == nil }

// Verify submits code. On MFA_INCORRECT the challenge stays usable and
// AttemptsRemaining is updated.
func (s *StaffChallenge) Verify(ctx context.Context, code string) (domain.Principal, error) {
	if s.principal != nil {
		return *s.principal, nil
	}
	res, err := s.client.api.VerifyMFA(ctx, s.token, code)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if n, ok := apiErr.AttemptsRemaining(); ok {
				s.AttemptsRemaining = n
			}
		}
		if kind, _ := domain.KindOf(err); kind == domain.KindMFAExpired {
			s.AttemptsRemaining = 0
		}
		return domain.Principal{}, err
	}
	p, err := s.client.start(domain.DomainStaff, res)
	if err != nil {
		return domain.Principal{}, err
	}
	s.principal = &p
	return p, nil
}

// LoginStaff runs the password step. The returned challenge is already
// complete when the server did not ask for a second factor.
func (c *Client) LoginStaff(ctx context.Context, username, password string) (*StaffChallenge, error) {
	res, err := c.api.LoginStaff(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if res.Challenge != nil {
		return &StaffChallenge{
			client:            c,
			token:             res.Challenge.ChallengeToken,
			ExpiresAt:         res.Challenge.ExpiresAt,
			AttemptsRemaining: res.Challenge.AttemptsRemaining,
		}, nil
	}
	if res.Login == nil {
		return nil, domain.NewAuthError(domain.KindProviderUnavailable, errors.New("empty staff login response"))
	}
	p, err := c.start(domain.DomainStaff, *res.Login)
	if err != nil {
		return nil, err
	}
	return &StaffChallenge{client: c, principal: &p}, nil
}

// Restore reloads persisted slots, runs one check per restored session and
// returns the domains that are still signed in.
func (c *Client) Restore(ctx context.Context) ([]domain.Domain, error) {
	if c.store == nil {
		return nil, nil
	}
	var (
		restored []domain.Domain
		errs     []error
	)
	for _, d := range domain.Domains {
		slot, ok, err := c.store.Load(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
			continue
		}
		if !ok {
			continue
		}
		s, err := slot.Restore(d)
		if err == nil {
			err = c.managers[d].Start(s)
		}
		if err != nil {
			c.logger.Warn("discarding unusable slot", zap.String("domain", string(d)), zap.Error(err))
			_ = c.store.Clear(d)
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
			continue
		}
		if _, err := c.managers[d].Check(ctx); err != nil {
			continue
		}
		restored = append(restored, d)
	}
	return restored, errors.Join(errs...)
}

// Session returns the active session of d.
func (c *Client) Session(d domain.Domain) (session.Session, bool) {
	return c.managers[d].Session()
}

// Touch records user activity in d.
func (c *Client) Touch(d domain.Domain) {
	c.managers[d].Touch()
}

// Check runs one session cycle of d.
func (c *Client) Check(ctx context.Context, d domain.Domain) (time.Duration, error) {
	return c.managers[d].Check(ctx)
}

// Logout ends the session of d and clears its slot.
func (c *Client) Logout(d domain.Domain) error {
	m, ok := c.managers[d]
	if !ok {
		return fmt.Errorf("unknown domain %q", d)
	}
	m.Logout()
	if c.store != nil {
		c.persistMu.Lock()
		defer c.persistMu.Unlock()
		return c.store.Clear(d)
	}
	return nil
}

// Close stops the session managers. Persisted slots are kept.
func (c *Client) Close() {
	for _, m := range c.managers {
		m.Close()
	}
}

func (c *Client) start(d domain.Domain, res dto.LoginResponse) (domain.Principal, error) {
	p, err := principalFromResponse(d, res.Principal)
	if err != nil {
		return domain.Principal{}, err
	}
	s := session.Session{
		Principal:    p,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		ExpiresAt:    res.Tokens.ExpiresAt,
	}
	if err := c.managers[d].Start(s); err != nil {
		return domain.Principal{}, err
	}
	if current, ok := c.managers[d].Session(); ok {
		c.persist(d, current)
	}
	return p, nil
}

func (c *Client) persist(d domain.Domain, s session.Session) {
	if c.store == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if err := c.store.Save(d, NewSlot(s)); err != nil {
		c.logger.Warn("persist session", zap.String("domain", string(d)), zap.Error(err))
	}
}

func (c *Client) loggedOut(d domain.Domain, reason error) {
	if c.store != nil && reason != nil {
		c.persistMu.Lock()
		if err := c.store.Clear(d); err != nil {
			c.logger.Warn("clear session slot", zap.String("domain", string(d)), zap.Error(err))
		}
		c.persistMu.Unlock()
	}
	c.onLogout(d, reason)
}
