package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/session"
)

const stateVersion = 1

type storedPrincipal struct {
	ID                    string   `yaml:"id"`
	Username              string   `yaml:"username"`
	Role                  string   `yaml:"role"`
	Permissions           []string `yaml:"permissions"`
	SessionTimeoutMinutes int      `yaml:"session_timeout_minutes"`
	HardTimeoutMinutes    int      `yaml:"hard_session_timeout_minutes,omitempty"`
}

func storePrincipal(p domain.Principal) storedPrincipal {
	return storedPrincipal{
		ID:                    p.ID,
		Username:              p.Username,
		Role:                  p.Role.Name(),
		Permissions:           p.Permissions.Strings(),
		SessionTimeoutMinutes: p.SessionTimeoutMinutes(),
		HardTimeoutMinutes:    p.HardSessionTimeoutMinutes(),
	}
}

func (s storedPrincipal) principal(d domain.Domain) (domain.Principal, error) {
	role, err := domain.ParseRole(d, s.Role)
	if err != nil {
		return domain.Principal{}, err
	}
	var (
		perms    []domain.Permission
		wildcard bool
	)
	for _, p := range s.Permissions {
		if p == "*" {
			wildcard = true
			continue
		}
		perms = append(perms, domain.Permission(p))
	}
	set := domain.NewPermissionSet(perms...)
	if wildcard {
		set = set.WithWildcard()
	}
	return domain.Principal{
		ID:                 s.ID,
		Username:           s.Username,
		Domain:             d,
		Role:               role,
		Permissions:        set,
		SessionTimeout:     time.Duration(s.SessionTimeoutMinutes) * time.Minute,
		HardSessionTimeout: time.Duration(s.HardTimeoutMinutes) * time.Minute,
	}, nil
}

// Slot is the persisted state of one domain.
type Slot struct {
	Domain    domain.Domain   `yaml:"domain"`
	Principal storedPrincipal `yaml:"principal"`
	Session   session.Session `yaml:"session"`
}

// NewSlot captures s for persistence.
func NewSlot(s session.Session) Slot {
	return Slot{Domain: s.Principal.Domain, Principal: storePrincipal(s.Principal), Session: s}
}

// Restore rebuilds the session held in the slot.
func (s Slot) Restore(d domain.Domain) (session.Session, error) {
	if s.Domain != d {
		return session.Session{}, domain.NewAuthError(domain.KindCrossDomainAccess,
			fmt.Errorf("slot records domain %q, wanted %q", s.Domain, d))
	}
	p, err := s.Principal.principal(d)
	if err != nil {
		return session.Session{}, err
	}
	out := s.Session
	out.Principal = p
	return out, nil
}

type stateFile struct {
	Version int                    `yaml:"version"`
	Slots   map[domain.Domain]Slot `yaml:"slots"`
}

// SlotStore persists the customer and staff slots in one YAML file. The two
// slots are independent: writing one never touches the other.
type SlotStore struct {
	path string
	mu   sync.Mutex
}

// NewSlotStore creates a store at path.
func NewSlotStore(path string) *SlotStore {
	return &SlotStore{path: path}
}

// DefaultStatePath is the per-user state file.
func DefaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "dualauth", "sessions.yaml")
}

// Path returns the file location.
func (s *SlotStore) Path() string { return s.path }

// Load returns the slot of d. A slot stored under d but recording another
// domain is rejected.
func (s *SlotStore) Load(d domain.Domain) (Slot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return Slot{}, false, err
	}
	slot, ok := state.Slots[d]
	if !ok {
		return Slot{}, false, nil
	}
	if slot.Domain != d {
		return Slot{}, false, domain.NewAuthError(domain.KindCrossDomainAccess,
			fmt.Errorf("%s slot holds a %q session", d, slot.Domain))
	}
	return slot, true, nil
}

// Save writes the slot of d.
func (s *SlotStore) Save(d domain.Domain, slot Slot) error {
	if slot.Domain != d {
		return domain.NewAuthError(domain.KindCrossDomainAccess,
			fmt.Errorf("refusing to store a %q session in the %s slot", slot.Domain, d))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return err
	}
	state.Slots[d] = slot
	return s.write(state)
}

// Clear removes the slot of d.
func (s *SlotStore) Clear(d domain.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := state.Slots[d]; !ok {
		return nil
	}
	delete(state.Slots, d)
	return s.write(state)
}

func (s *SlotStore) read() (*stateFile, error) {
	state := &stateFile{Version: stateVersion, Slots: map[domain.Domain]Slot{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("%s: unsupported state version %d", s.path, state.Version)
	}
	if state.Slots == nil {
		state.Slots = map[domain.Domain]Slot{}
	}
	return state, nil
}

// write replaces the file atomically with owner-only permissions.
func (s *SlotStore) write(state *stateFile) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return renameio.WriteFile(s.path, data, 0o600)
}
