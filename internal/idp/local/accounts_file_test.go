package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/dualauth/internal/domain"
)

func TestLoadAccountsFile(t *testing.T) {
	t.Parallel()
	_, key, err := GenerateTOTPSecret("dualauth", "ops")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
customers:
  - username: alice
    password_hash: "$2a$04$hash"
    tier: dealer
staff:
  - id: s-1
    username: ops
    password_hash: "$2a$04$hash"
    role: manager
    mfa_secret: `+key.Secret()+`
  - username: intern
    password_hash: "$2a$04$hash"
    role: team-member
    disabled: true
`), 0o600))

	customers, err := LoadAccountsFile(path, domain.DomainCustomer)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "customer:alice", customers[0].ID)
	assert.True(t, customers[0].Active)
	assert.True(t, customers[0].Confirmed)
	assert.Equal(t, "dealer", customers[0].Tier)

	staff, err := LoadAccountsFile(path, domain.DomainStaff)
	require.NoError(t, err)
	require.Len(t, staff, 2)
	assert.Equal(t, []string{"manager"}, staff[0].Groups)
	assert.Len(t, staff[0].MFASecret, 20)
	assert.False(t, staff[1].Active)
}

func TestLoadAccountsFileRejectsIncompleteEntries(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("staff:\n  - username: ops\n"), 0o600))

	_, err := LoadAccountsFile(path, domain.DomainStaff)
	assert.ErrorContains(t, err, "password_hash")
}

type memoryCustomerRepo struct {
	rows    map[string]*domain.Customer
	created int
	updated int
}

func (r *memoryCustomerRepo) Create(_ context.Context, c *domain.Customer) error {
	c.ID = "id-" + c.Username
	r.rows[c.Username] = c
	r.created++
	return nil
}

func (r *memoryCustomerRepo) Update(_ context.Context, c *domain.Customer) error {
	if _, ok := r.rows[c.Username]; !ok {
		return pgx.ErrNoRows
	}
	r.rows[c.Username] = c
	r.updated++
	return nil
}

func (r *memoryCustomerRepo) GetByUsername(_ context.Context, username string) (*domain.Customer, error) {
	c, ok := r.rows[username]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return c, nil
}

type memoryStaffRepo struct {
	rows map[string]*domain.StaffMember
}

func (r *memoryStaffRepo) Create(_ context.Context, s *domain.StaffMember) error {
	s.ID = "id-" + s.Username
	r.rows[s.Username] = s
	return nil
}

func (r *memoryStaffRepo) Update(_ context.Context, s *domain.StaffMember) error {
	r.rows[s.Username] = s
	return nil
}

func (r *memoryStaffRepo) GetByUsername(_ context.Context, username string) (*domain.StaffMember, error) {
	s, ok := r.rows[username]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s, nil
}

func (r *memoryStaffRepo) AdvanceMFACounter(context.Context, string, int64) error { return nil }

func TestSeedRepositoriesUpsertsByUsername(t *testing.T) {
	t.Parallel()
	_, key, err := GenerateTOTPSecret("dualauth", "ops")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
customers:
  - username: alice
    password_hash: "$2a$04$hash"
  - username: bob
    password_hash: "$2a$04$hash"
    tier: premium
    disabled: true
staff:
  - username: ops
    password_hash: "$2a$04$hash"
    mfa_secret: `+key.Secret()+`
`), 0o600))
	ctx := context.Background()

	customers := &memoryCustomerRepo{rows: map[string]*domain.Customer{
		"alice": {ID: "existing", Username: "alice"},
	}}
	n, err := SeedCustomers(ctx, path, customers)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, customers.created)
	assert.Equal(t, 1, customers.updated)
	assert.Equal(t, "existing", customers.rows["alice"].ID)
	assert.Equal(t, "individual", customers.rows["alice"].Tier)
	assert.Equal(t, domain.CustomerStatusSuspended, customers.rows["bob"].Status)

	staff := &memoryStaffRepo{rows: map[string]*domain.StaffMember{}}
	n, err = SeedStaff(ctx, path, staff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "team-member", staff.rows["ops"].Role)
	assert.Len(t, staff.rows["ops"].MFASecret, 20)
}
