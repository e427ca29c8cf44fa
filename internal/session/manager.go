// Package session tracks one authenticated client session per domain:
// activity, idle timeout, proactive refresh and forced logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/dualauth/internal/domain"
)

// Session is the client held state of one login.
type Session struct {
	Principal      domain.Principal `yaml:"-"`
	AccessToken    string           `yaml:"access_token"`
	RefreshToken   string           `yaml:"refresh_token"`
	CreatedAt      time.Time        `yaml:"created_at"`
	LastActivityAt time.Time        `yaml:"last_activity_at"`
	// ExpiresAt is the access token expiry; refresh moves it.
	ExpiresAt time.Time `yaml:"expires_at"`
	// HardExpiresAt caps the session regardless of activity or refresh.
	HardExpiresAt time.Time `yaml:"hard_expires_at"`
}

// Refreshed is what a successful refresh hands back.
type Refreshed struct {
	AccessToken string
	// RefreshToken is empty when the provider does not rotate.
	RefreshToken string
	ExpiresAt    time.Time
	// Principal is set when the new access token was re-verified.
	Principal *domain.Principal
}

// Refresher exchanges a refresh token for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, d domain.Domain, username, refreshToken string) (Refreshed, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, d domain.Domain, username, refreshToken string) (Refreshed, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, d domain.Domain, username, refreshToken string) (Refreshed, error) {
	return f(ctx, d, username, refreshToken)
}

// Options configures a Manager.
type Options struct {
	// Timeout is the idle timeout used when the principal carries none.
	Timeout time.Duration
	// HardTimeout is the absolute lifetime used when the principal carries
	// none.
	HardTimeout   time.Duration
	LowWater      time.Duration
	CheckInterval time.Duration
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogoutHandler is called after every logout. reason is nil for an
// explicit Logout and a SessionExpired or RefreshFailed error otherwise.
func WithLogoutHandler(fn func(reason error)) Option {
	return func(m *Manager) { m.onLogout = fn }
}

// WithChangeHandler is called with a copy of the session after a refresh
// or an activity update, e.g. to persist it.
func WithChangeHandler(fn func(Session)) Option {
	return func(m *Manager) { m.onChange = fn }
}

// Manager owns at most one session of one domain. Check and Touch may be
// called from different goroutines; the refresh call runs without the lock.
type Manager struct {
	domain    domain.Domain
	opts      Options
	refresher Refresher
	logger    *zap.Logger
	now       func() time.Time
	onLogout  func(error)
	onChange  func(Session)

	mu         sync.Mutex
	session    *Session
	generation uint64
	armed      bool
	refreshing bool
	taskCtx    context.Context
	cancel     context.CancelFunc
}

// NewManager creates a manager for domain d.
func NewManager(d domain.Domain, opts Options, refresher Refresher, logger *zap.Logger, options ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LowWater <= 0 {
		opts.LowWater = 5 * time.Minute
	}
	m := &Manager{
		domain:    d,
		opts:      opts,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
		onLogout:  func(error) {},
		onChange:  func(Session) {},
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Domain returns the domain the manager serves.
func (m *Manager) Domain() domain.Domain { return m.domain }

// Start installs s as the active session, replacing and cancelling any
// previous one, and schedules the periodic check when an interval is set.
func (m *Manager) Start(s Session) error {
	if s.Principal.Domain != m.domain {
		return domain.NewAuthError(domain.KindCrossDomainAccess,
			fmt.Errorf("%s session offered to %s manager", s.Principal.Domain, m.domain))
	}
	now := m.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = now
	}
	hard := s.Principal.HardSessionTimeout
	if hard <= 0 {
		hard = m.opts.HardTimeout
	}
	if hard > 0 {
		limit := s.CreatedAt.Add(hard)
		if s.HardExpiresAt.IsZero() || s.HardExpiresAt.After(limit) {
			s.HardExpiresAt = limit
		}
	}

	m.mu.Lock()
	m.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	m.session = &s
	m.armed = true
	m.taskCtx = ctx
	m.cancel = cancel
	interval := m.opts.CheckInterval
	m.mu.Unlock()

	if interval > 0 {
		go m.run(ctx, interval)
	}
	return nil
}

// Session returns a copy of the active session.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Active reports whether a session is installed.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Touch records user activity. The hard expiry still bounds the session.
func (m *Manager) Touch() {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return
	}
	now := m.now()
	if now.After(m.session.LastActivityAt) {
		m.session.LastActivityAt = now
	}
	m.armed = true
	snapshot := *m.session
	m.mu.Unlock()
	m.onChange(snapshot)
}

// Remaining returns the time left before the session must end.
func (m *Manager) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0
	}
	return m.remainingLocked(m.now())
}

func (m *Manager) timeout() time.Duration {
	if t := m.session.Principal.SessionTimeout; t > 0 {
		return t
	}
	return m.opts.Timeout
}

func (m *Manager) remainingLocked(now time.Time) time.Duration {
	s := m.session
	rem := m.timeout() - now.Sub(s.LastActivityAt)
	if !s.HardExpiresAt.IsZero() {
		if hard := s.HardExpiresAt.Sub(now); hard < rem {
			rem = hard
		}
	}
	if rem < 0 {
		return 0
	}
	return rem
}

// Check runs one cycle: forced logout at zero, proactive refresh below the
// low-water mark. It returns the remaining time after the cycle.
func (m *Manager) Check(ctx context.Context) (time.Duration, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return 0, domain.NewAuthError(domain.KindSessionExpired, errors.New("no active session"))
	}
	now := m.now()
	rem := m.remainingLocked(now)
	if rem == 0 {
		err := domain.NewAuthError(domain.KindSessionExpired, errors.New("session timed out"))
		m.endLocked()
		m.mu.Unlock()
		m.notifyLogout(err)
		return 0, err
	}

	s := m.session
	tokenDue := !s.ExpiresAt.IsZero() && s.ExpiresAt.Sub(now) <= m.opts.LowWater
	idleDue := rem <= m.opts.LowWater && m.armed
	if m.refreshing || !(tokenDue || idleDue) {
		m.mu.Unlock()
		return rem, nil
	}

	m.refreshing = true
	m.armed = false
	gen := m.generation
	username := s.Principal.Username
	refreshToken := s.RefreshToken
	taskCtx := m.taskCtx
	m.mu.Unlock()

	refreshCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(taskCtx, cancel)
	res, err := m.refresher.Refresh(refreshCtx, m.domain, username, refreshToken)
	stop()
	cancel()

	m.mu.Lock()
	if gen != m.generation || m.session == nil {
		m.mu.Unlock()
		m.logger.Debug("discarding refresh of ended session", zap.String("domain", string(m.domain)))
		return 0, domain.NewAuthError(domain.KindSessionExpired, errors.New("session ended during refresh"))
	}
	m.refreshing = false
	if err != nil {
		authErr := domain.NewAuthError(domain.KindRefreshFailed, err)
		m.endLocked()
		m.mu.Unlock()
		m.logger.Info("session refresh failed", zap.String("domain", string(m.domain)), zap.Error(err))
		m.notifyLogout(authErr)
		return 0, authErr
	}

	m.session.AccessToken = res.AccessToken
	if res.RefreshToken != "" {
		m.session.RefreshToken = res.RefreshToken
	}
	if !res.ExpiresAt.IsZero() {
		m.session.ExpiresAt = res.ExpiresAt
	}
	if res.Principal != nil && res.Principal.Domain == m.domain {
		m.session.Principal = *res.Principal
	}
	rem = m.remainingLocked(m.now())
	snapshot := *m.session
	m.mu.Unlock()

	m.onChange(snapshot)
	return rem, nil
}

// Logout ends the session and cancels the periodic check and any refresh.
func (m *Manager) Logout() {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return
	}
	m.endLocked()
	m.mu.Unlock()
	m.notifyLogout(nil)
}

// Close stops the manager without logout notification. The session is dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.session = nil
}

func (m *Manager) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				if kind, ok := domain.KindOf(err); ok && kind.ForcesLogout() {
					return
				}
			}
		}
	}
}

func (m *Manager) endLocked() {
	m.stopLocked()
	m.session = nil
}

// stopLocked invalidates in-flight refreshes and stops the periodic task.
func (m *Manager) stopLocked() {
	m.generation++
	m.refreshing = false
	m.armed = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.taskCtx = context.Background()
}

func (m *Manager) notifyLogout(reason error) {
	m.onLogout(reason)
}
