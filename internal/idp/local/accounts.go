package local

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/repository"
)

var (
	// ErrAccountNotFound is returned for unknown usernames.
	ErrAccountNotFound = errors.New("account not found")
	// ErrCodeReplayed is returned when a TOTP step was already consumed.
	ErrCodeReplayed = errors.New("totp code already used")
)

// Account is the provider's view of a customer or staff account.
type Account struct {
	ID             string
	Username       string
	PasswordHash   string
	Active         bool
	Confirmed      bool
	Tier           string
	StaffRole      string
	Groups         []string
	MFASecret      []byte
	MFALastCounter *int64
}

// AccountStore looks up accounts of one domain.
type AccountStore interface {
	FindByUsername(ctx context.Context, username string) (*Account, error)
	// MarkTOTPCounter records the last accepted TOTP step of id.
	MarkTOTPCounter(ctx context.Context, id string, counter int64) error
}

// CustomerAccounts serves customer accounts from Postgres.
type CustomerAccounts struct {
	Repo repository.CustomerRepository
}

// FindByUsername implements AccountStore.
func (a CustomerAccounts) FindByUsername(ctx context.Context, username string) (*Account, error) {
	c, err := a.Repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &Account{
		ID:           c.ID,
		Username:     c.Username,
		PasswordHash: c.PasswordHash,
		Active:       c.Status == domain.CustomerStatusActive,
		Confirmed:    c.Confirmed,
		Tier:         c.Tier,
	}, nil
}

// MarkTOTPCounter implements AccountStore; customers have no second factor.
func (CustomerAccounts) MarkTOTPCounter(context.Context, string, int64) error {
	return nil
}

// StaffAccounts serves staff accounts from Postgres.
type StaffAccounts struct {
	Repo repository.StaffRepository
}

// FindByUsername implements AccountStore.
func (a StaffAccounts) FindByUsername(ctx context.Context, username string) (*Account, error) {
	s, err := a.Repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &Account{
		ID:             s.ID,
		Username:       s.Username,
		PasswordHash:   s.PasswordHash,
		Active:         s.Active,
		Confirmed:      true,
		StaffRole:      s.Role,
		Groups:         []string{s.Role},
		MFASecret:      s.MFASecret,
		MFALastCounter: s.MFALastCounter,
	}, nil
}

// MarkTOTPCounter implements AccountStore.
func (a StaffAccounts) MarkTOTPCounter(ctx context.Context, id string, counter int64) error {
	if err := a.Repo.AdvanceMFACounter(ctx, id, counter); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCodeReplayed
		}
		return err
	}
	return nil
}

// MemoryAccounts is an in-process AccountStore for tests and local runs
// without a database.
type MemoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]Account
}

// NewMemoryAccounts creates a store holding accounts.
func NewMemoryAccounts(accounts ...Account) *MemoryAccounts {
	m := &MemoryAccounts{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		m.Put(a)
	}
	return m
}

// Put inserts or replaces an account.
func (m *MemoryAccounts) Put(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[strings.ToLower(a.Username)] = a
}

// FindByUsername implements AccountStore.
func (m *MemoryAccounts) FindByUsername(_ context.Context, username string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[strings.ToLower(username)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

// MarkTOTPCounter implements AccountStore.
func (m *MemoryAccounts) MarkTOTPCounter(_ context.Context, id string, counter int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, a := range m.accounts {
		if a.ID != id {
			continue
		}
		if a.MFALastCounter != nil && *a.MFALastCounter >= counter {
			return ErrCodeReplayed
		}
		c := counter
		a.MFALastCounter = &c
		m.accounts[key] = a
		return nil
	}
	return ErrAccountNotFound
}
