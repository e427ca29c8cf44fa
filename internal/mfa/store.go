package mfa

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/spec-kit/dualauth/internal/domain"
)

var (
	// ErrChallengeNotFound is returned for unknown or already discarded challenges.
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	// ErrNoAttemptsLeft is returned when every attempt has been reserved.
	ErrNoAttemptsLeft = errors.New("mfa challenge has no attempts left")
)

// ChallengeStore persists pending challenges between the password and code steps.
type ChallengeStore interface {
	Save(ctx context.Context, ch domain.MFAChallenge) error
	Get(ctx context.Context, token string) (domain.MFAChallenge, error)
	// ConsumeAttempt atomically reserves one attempt and returns how many are
	// left after the reservation.
	ConsumeAttempt(ctx context.Context, token string) (int, error)
	Delete(ctx context.Context, token string) error
}

// MemoryStore keeps challenges in process. Expiry is judged by the store's
// clock only; expired entries stay until read or purged.
type MemoryStore struct {
	mu    sync.Mutex
	items *gocache.Cache
	now   func() time.Time
}

// NewMemoryStore creates an in-memory store. now is the clock expiry is
// judged by, normally the one of the Handler; nil means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{items: gocache.New(gocache.NoExpiration, 0), now: now}
}

// Save implements ChallengeStore.
func (s *MemoryStore) Save(_ context.Context, ch domain.MFAChallenge) error {
	if ch.Expired(s.now()) {
		return errors.New("challenge already expired")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Set(ch.ChallengeToken, ch, gocache.NoExpiration)
	return nil
}

// Get implements ChallengeStore.
func (s *MemoryStore) Get(_ context.Context, token string) (domain.MFAChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(token)
}

// ConsumeAttempt implements ChallengeStore.
func (s *MemoryStore) ConsumeAttempt(_ context.Context, token string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.liveLocked(token)
	if err != nil {
		return 0, err
	}
	if ch.AttemptsRemaining <= 0 {
		return 0, ErrNoAttemptsLeft
	}
	ch.AttemptsRemaining--
	s.items.Set(token, ch, gocache.NoExpiration)
	return ch.AttemptsRemaining, nil
}

func (s *MemoryStore) liveLocked(token string) (domain.MFAChallenge, error) {
	v, ok := s.items.Get(token)
	if !ok {
		return domain.MFAChallenge{}, ErrChallengeNotFound
	}
	ch := v.(domain.MFAChallenge)
	if ch.Expired(s.now()) {
		s.items.Delete(token)
		return domain.MFAChallenge{}, ErrChallengeNotFound
	}
	return ch, nil
}

// Delete implements ChallengeStore.
func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Delete(token)
	return nil
}

// PurgeExpired drops expired entries; scheduled from cron.
func (s *MemoryStore) PurgeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, item := range s.items.Items() {
		if ch, ok := item.Object.(domain.MFAChallenge); !ok || ch.Expired(now) {
			s.items.Delete(token)
		}
	}
}

// Len returns the number of stored challenges, expired ones included until purged.
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}
