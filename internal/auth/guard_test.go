package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/dualauth/internal/domain"
)

func principalFor(t *testing.T, role domain.Role) domain.Principal {
	t.Helper()
	policy := NewPolicy(24*time.Hour, 8*time.Hour)
	return domain.Principal{
		ID:             "id-" + role.Name(),
		Domain:         role.Domain(),
		Role:           role,
		Permissions:    policy.Permissions(role),
		SessionTimeout: policy.SessionTimeout(role.Domain()),
	}
}

func TestAssertDomain(t *testing.T) {
	t.Parallel()
	customer := principalFor(t, domain.TierPremium)
	staff := principalFor(t, domain.RoleSuperAdmin)

	require.NoError(t, AssertDomain(customer, domain.DomainCustomer))
	require.NoError(t, AssertDomain(staff, domain.DomainStaff))
	requireKind(t, AssertDomain(customer, domain.DomainStaff), domain.KindCrossDomainAccess)
	requireKind(t, AssertDomain(staff, domain.DomainCustomer), domain.KindCrossDomainAccess)
	requireKind(t, AssertDomain(domain.Principal{}, domain.DomainCustomer), domain.KindCrossDomainAccess)
}

func TestAuthorize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    domain.Principal
		req  domain.Requirement
		want Decision
	}{
		{"individual can create listing", principalFor(t, domain.TierIndividual), domain.PermListingCreate, Allow},
		{"individual cannot bulk import", principalFor(t, domain.TierIndividual), domain.PermListingBulkImport, Deny},
		{"dealer can bulk import", principalFor(t, domain.TierDealer), domain.PermListingBulkImport, Allow},
		{"dealer can create listing", principalFor(t, domain.TierDealer), domain.PermListingCreate, Allow},
		{"dealer lacks advanced analytics", principalFor(t, domain.TierDealer), domain.PermAnalyticsAdvanced, Deny},
		{"premium holds dealer tier", principalFor(t, domain.TierPremium), domain.TierDealer, Allow},
		{"dealer lacks premium tier", principalFor(t, domain.TierDealer), domain.TierPremium, Deny},
		{"manager moderates", principalFor(t, domain.RoleManager), domain.PermListingModerate, Allow},
		{"team member cannot suspend", principalFor(t, domain.RoleTeamMember), domain.PermUserSuspend, Deny},
		{"super admin wildcard", principalFor(t, domain.RoleSuperAdmin), domain.Permission("anything:new"), Allow},
		{"super admin does not rank as customer tier", principalFor(t, domain.RoleSuperAdmin), domain.TierIndividual, Deny},
		{"empty permission", principalFor(t, domain.RoleSuperAdmin), domain.Permission(""), Deny},
		{"zero principal", domain.Principal{}, domain.PermProfileRead, Deny},
		{"nil requirement", principalFor(t, domain.TierPremium), nil, Deny},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Authorize(tc.p, tc.req))
		})
	}
}

func TestRequire(t *testing.T) {
	t.Parallel()
	admin := principalFor(t, domain.RoleAdmin)

	require.NoError(t, Require(admin, domain.DomainStaff, domain.PermUserManage, domain.RoleManager))
	requireKind(t, Require(admin, domain.DomainStaff, domain.RoleSuperAdmin), domain.KindInsufficientPermission)
	requireKind(t, Require(admin, domain.DomainCustomer, domain.PermProfileRead), domain.KindCrossDomainAccess)
}

func TestAuthorize_MonotonicAlongHierarchy(t *testing.T) {
	t.Parallel()
	policy := NewPolicy(time.Hour, time.Hour)
	for _, d := range domain.Domains {
		levels := domain.Hierarchy(d)
		for i, lower := range levels {
			for _, perm := range policy.Permissions(lower).Slice() {
				for _, higher := range levels[i:] {
					assert.Equal(t, Allow, Authorize(principalFor(t, higher), perm), "%s should hold %s", higher, perm)
				}
			}
		}
	}
}
