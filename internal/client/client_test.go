package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/dualauth/internal/api/dto"
	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/session"
)

type fakeAPI struct {
	mu         sync.Mutex
	refreshErr error
	refreshes  int
}

func loginFor(d domain.Domain, username, role string) dto.LoginResponse {
	timeout, hard := 1440, 30*1440
	if d == domain.DomainStaff {
		timeout, hard = 480, 480
	}
	return dto.LoginResponse{
		Tokens: dto.TokenResponse{
			AccessToken:  string(d) + "-access",
			RefreshToken: string(d) + "-refresh",
			TokenType:    "Bearer",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
		Principal: dto.PrincipalResponse{
			ID: username + "-id", Username: username, Domain: string(d), Role: role,
			Permissions: []string{"profile:read"}, SessionTimeoutMinutes: timeout,
			HardSessionTimeoutMinutes: hard,
		},
	}
}

func (f *fakeAPI) LoginCustomer(_ context.Context, username, password string) (dto.LoginResponse, error) {
	if password != "pw" {
		return dto.LoginResponse{}, domain.NewAuthError(domain.KindInvalidCredentials, errors.New("nope"))
	}
	return loginFor(domain.DomainCustomer, username, "dealer"), nil
}

func (f *fakeAPI) LoginStaff(_ context.Context, username, password string) (dto.StaffLoginResponse, error) {
	if password != "pw" {
		return dto.StaffLoginResponse{}, domain.NewAuthError(domain.KindInvalidCredentials, errors.New("nope"))
	}
	return dto.StaffLoginResponse{MFARequired: true, Challenge: &dto.ChallengeResponse{
		ChallengeToken: "ch-1", ExpiresAt: time.Now().Add(3 * time.Minute), AttemptsRemaining: 3,
	}}, nil
}

func (f *fakeAPI) VerifyMFA(_ context.Context, challengeToken, code string) (dto.LoginResponse, error) {
	if code != "123456" {
		return dto.LoginResponse{}, domain.NewAuthError(domain.KindMFAIncorrect, &APIError{
			Status: 401, Code: "MFA_INCORRECT", Details: map[string]any{"attempts_remaining": float64(2)},
		})
	}
	return loginFor(domain.DomainStaff, "ops", "admin"), nil
}

func (f *fakeAPI) Refresh(_ context.Context, d domain.Domain, _, _ string) (session.Refreshed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return session.Refreshed{}, f.refreshErr
	}
	return session.Refreshed{AccessToken: string(d) + "-access-2", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newTestClient(t *testing.T, api API) (*Client, *SlotStore, *[]error) {
	t.Helper()
	store := NewSlotStore(filepath.Join(t.TempDir(), "state", "sessions.yaml"))
	var (
		mu      sync.Mutex
		reasons []error
	)
	c := New(api, store, Options{
		Sessions: map[domain.Domain]session.Options{
			domain.DomainCustomer: {HardTimeout: 30 * 24 * time.Hour},
			domain.DomainStaff:    {HardTimeout: 8 * time.Hour},
		},
		OnLogout: func(_ domain.Domain, reason error) {
			mu.Lock()
			defer mu.Unlock()
			reasons = append(reasons, reason)
		},
	}, nil)
	t.Cleanup(c.Close)
	return c, store, &reasons
}

func TestClient_SlotsAreIndependent(t *testing.T) {
	t.Parallel()
	c, store, _ := newTestClient(t, &fakeAPI{})
	ctx := context.Background()

	customer, err := c.LoginCustomer(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, domain.TierDealer, customer.Role)

	ch, err := c.LoginStaff(ctx, "ops", "pw")
	require.NoError(t, err)
	require.True(t, ch.Pending())
	staff, err := ch.Verify(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, staff.Role)

	cs, ok := c.Session(domain.DomainCustomer)
	require.True(t, ok)
	assert.Equal(t, "customer-access", cs.AccessToken)
	ss, ok := c.Session(domain.DomainStaff)
	require.True(t, ok)
	assert.Equal(t, "staff-access", ss.AccessToken)

	require.NoError(t, c.Logout(domain.DomainStaff))
	_, ok = c.Session(domain.DomainStaff)
	assert.False(t, ok)
	_, ok = c.Session(domain.DomainCustomer)
	assert.True(t, ok, "staff logout leaves the customer session alone")

	_, found, err := store.Load(domain.DomainStaff)
	require.NoError(t, err)
	assert.False(t, found)
	slot, found, err := store.Load(domain.DomainCustomer)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "customer-access", slot.Session.AccessToken)
}

func TestClient_WrongMFACodeKeepsChallenge(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestClient(t, &fakeAPI{})
	ctx := context.Background()

	ch, err := c.LoginStaff(ctx, "ops", "pw")
	require.NoError(t, err)
	_, err = ch.Verify(ctx, "000000")
	require.Error(t, err)
	kind, _ := domain.KindOf(err)
	assert.Equal(t, domain.KindMFAIncorrect, kind)
	assert.Equal(t, 2, ch.AttemptsRemaining)
	assert.True(t, ch.Pending())
	_, ok := c.Session(domain.DomainStaff)
	assert.False(t, ok)

	_, err = ch.Verify(ctx, "123456")
	require.NoError(t, err)
	assert.False(t, ch.Pending())
}

func TestClient_RestoreFromDisk(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	c, store, _ := newTestClient(t, api)
	ctx := context.Background()
	_, err := c.LoginCustomer(ctx, "alice", "pw")
	require.NoError(t, err)
	c.Close()

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	restoredClient := New(api, store, Options{}, nil)
	t.Cleanup(restoredClient.Close)
	domains, err := restoredClient.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Domain{domain.DomainCustomer}, domains)

	s, ok := restoredClient.Session(domain.DomainCustomer)
	require.True(t, ok)
	assert.Equal(t, domain.DomainCustomer, s.Principal.Domain)
	assert.Equal(t, 24*time.Hour, s.Principal.SessionTimeout)
	assert.True(t, s.Principal.Permissions.Has(domain.PermProfileRead))
}

func TestClient_ServerHardTimeoutSurvivesRestore(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	store := NewSlotStore(filepath.Join(t.TempDir(), "sessions.yaml"))
	c := New(api, store, Options{}, nil)
	ctx := context.Background()

	challenge, err := c.LoginStaff(ctx, "ops", "pw")
	require.NoError(t, err)
	_, err = challenge.Verify(ctx, "123456")
	require.NoError(t, err)
	s, ok := c.Session(domain.DomainStaff)
	require.True(t, ok)
	assert.Equal(t, s.CreatedAt.Add(8*time.Hour), s.HardExpiresAt)
	c.Close()

	restored := New(api, store, Options{}, nil)
	t.Cleanup(restored.Close)
	_, err = restored.Restore(ctx)
	require.NoError(t, err)
	again, ok := restored.Session(domain.DomainStaff)
	require.True(t, ok)
	assert.True(t, s.HardExpiresAt.Equal(again.HardExpiresAt))
	assert.Equal(t, 8*time.Hour, again.Principal.HardSessionTimeout)
}

func TestClient_RestoreRejectsMislabelledSlot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.yaml")
	// a customer session filed under the staff slot
	raw := []byte(`version: 1
slots:
  staff:
    domain: customer
    principal:
      id: c-1
      username: alice
      role: dealer
      session_timeout_minutes: 1440
    session:
      access_token: stolen
`)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	store := NewSlotStore(path)

	_, _, err := store.Load(domain.DomainStaff)
	kind, _ := domain.KindOf(err)
	assert.Equal(t, domain.KindCrossDomainAccess, kind)

	c := New(&fakeAPI{}, store, Options{}, nil)
	t.Cleanup(c.Close)
	domains, err := c.Restore(context.Background())
	assert.Error(t, err)
	assert.Empty(t, domains)
	_, ok := c.Session(domain.DomainStaff)
	assert.False(t, ok)
}

func TestClient_RefreshFailureForcesLogout(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{refreshErr: domain.NewAuthError(domain.KindSessionExpired, errors.New("revoked"))}
	c, store, reasons := newTestClient(t, api)
	ctx := context.Background()

	_, err := c.LoginCustomer(ctx, "alice", "pw")
	require.NoError(t, err)
	s, _ := c.Session(domain.DomainCustomer)
	s.ExpiresAt = time.Now().Add(time.Minute)
	require.NoError(t, c.Manager(domain.DomainCustomer).Start(s))

	_, err = c.Check(ctx, domain.DomainCustomer)
	kind, _ := domain.KindOf(err)
	assert.Equal(t, domain.KindRefreshFailed, kind)
	_, ok := c.Session(domain.DomainCustomer)
	assert.False(t, ok)
	require.Len(t, *reasons, 1)
	assert.Error(t, (*reasons)[0])

	_, found, err := store.Load(domain.DomainCustomer)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSlotStore_RejectsForeignSave(t *testing.T) {
	t.Parallel()
	store := NewSlotStore(filepath.Join(t.TempDir(), "s.yaml"))
	err := store.Save(domain.DomainStaff, Slot{Domain: domain.DomainCustomer})
	kind, _ := domain.KindOf(err)
	assert.Equal(t, domain.KindCrossDomainAccess, kind)
}

func TestSlotStore_SaveReplacesLooseFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nslots: {}\n"), 0o644))

	store := NewSlotStore(path)
	p := domain.Principal{ID: "c-1", Username: "alice", Domain: domain.DomainCustomer, Role: domain.TierDealer}
	require.NoError(t, store.Save(domain.DomainCustomer, NewSlot(session.Session{Principal: p, AccessToken: "a"})))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")

	slot, found, err := store.Load(domain.DomainCustomer)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", slot.Session.AccessToken)
}

func TestTransport_MapsEnvelopes(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/customer/login":
			var req dto.LoginRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Password != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
					"code": "INVALID_CREDENTIALS", "message": "incorrect username or password",
				}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": loginFor(domain.DomainCustomer, req.Username, "premium")})
		case "/staff/me":
			if r.Header.Get("Authorization") != "Bearer staff-token" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
					"code": "UNAUTHENTICATED", "message": "please sign in again",
				}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": loginFor(domain.DomainCustomer, "alice", "premium").Principal})
		case "/auth/staff/refresh":
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "PROVIDER_UNAVAILABLE", "message": "later"}})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "nope"}})
		}
	}))
	t.Cleanup(srv.Close)
	tr := NewTransport(srv.URL, 5*time.Second)
	ctx := context.Background()

	res, err := tr.LoginCustomer(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "premium", res.Principal.Role)

	_, err = tr.LoginCustomer(ctx, "alice", "bad")
	kind, _ := domain.KindOf(err)
	assert.Equal(t, domain.KindInvalidCredentials, kind)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = tr.Me(ctx, domain.DomainStaff, "wrong")
	kind, _ = domain.KindOf(err)
	assert.Equal(t, domain.KindTokenMalformed, kind)

	// a customer principal handed back for a staff token is refused
	_, err = tr.Me(ctx, domain.DomainStaff, "staff-token")
	kind, _ = domain.KindOf(err)
	assert.Equal(t, domain.KindCrossDomainAccess, kind)

	_, err = tr.Refresh(ctx, domain.DomainStaff, "ops", "rt")
	kind, _ = domain.KindOf(err)
	assert.Equal(t, domain.KindProviderUnavailable, kind)
}
