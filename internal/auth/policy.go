package auth

import (
	"time"

	"github.com/spec-kit/dualauth/internal/domain"
)

// grants lists what each level adds on top of the level below it.
var grants = map[domain.Domain][][]domain.Permission{
	domain.DomainCustomer: {
		// individual
		{
			domain.PermProfileRead,
			domain.PermProfileUpdate,
			domain.PermListingRead,
			domain.PermListingCreate,
			domain.PermMessageSend,
			domain.PermFavoritesManage,
		},
		// dealer
		{
			domain.PermListingBulkImport,
			domain.PermInventoryManage,
			domain.PermLeadManage,
			domain.PermAnalyticsBasic,
		},
		// premium
		{
			domain.PermAnalyticsAdvanced,
			domain.PermListingFeature,
			domain.PermAPIAccess,
		},
	},
	domain.DomainStaff: {
		// team-member
		{
			domain.PermDashboardView,
			domain.PermListingReview,
			domain.PermUserView,
			domain.PermSupportRespond,
		},
		// manager
		{
			domain.PermListingModerate,
			domain.PermUserSuspend,
			domain.PermReportView,
		},
		// admin
		{
			domain.PermUserManage,
			domain.PermStaffManage,
			domain.PermSettingsManage,
			domain.PermReportExport,
			domain.PermAuditView,
		},
		// super-admin holds the wildcard
		{},
	},
}

// Policy is the static role to permission table plus the per-domain session
// timeouts. It is built once at startup and never mutated.
type Policy struct {
	tables   map[domain.Domain]map[string]domain.PermissionSet
	timeouts map[domain.Domain]time.Duration
	hard     map[domain.Domain]time.Duration
}

// NewPolicy builds the table. Each level of a hierarchy holds everything the
// level below holds, and super-admin additionally holds the wildcard.
func NewPolicy(customerTimeout, staffTimeout time.Duration) *Policy {
	p := &Policy{
		tables: make(map[domain.Domain]map[string]domain.PermissionSet, len(domain.Domains)),
		timeouts: map[domain.Domain]time.Duration{
			domain.DomainCustomer: customerTimeout,
			domain.DomainStaff:    staffTimeout,
		},
		hard: map[domain.Domain]time.Duration{
			domain.DomainCustomer: domain.CustomerHardSessionTimeout,
			domain.DomainStaff:    domain.StaffHardSessionTimeout,
		},
	}
	for _, d := range domain.Domains {
		levels := domain.Hierarchy(d)
		table := make(map[string]domain.PermissionSet, len(levels))
		acc := domain.NewPermissionSet()
		for i, role := range levels {
			acc = acc.Union(domain.NewPermissionSet(grants[d][i]...))
			if role == domain.RoleSuperAdmin {
				acc = acc.WithWildcard()
			}
			table[role.Name()] = acc
		}
		p.tables[d] = table
	}
	return p
}

// Permissions returns the static permission set of role; unknown roles get nothing.
func (p *Policy) Permissions(role domain.Role) domain.PermissionSet {
	if role.IsZero() {
		return domain.NewPermissionSet()
	}
	set, ok := p.tables[role.Domain()][role.Name()]
	if !ok {
		return domain.NewPermissionSet()
	}
	return set
}

// WithHardTimeouts overrides the absolute session lifetimes. Zero keeps
// the domain default. Call it before the policy is shared.
func (p *Policy) WithHardTimeouts(customer, staff time.Duration) *Policy {
	if customer > 0 {
		p.hard[domain.DomainCustomer] = customer
	}
	if staff > 0 {
		p.hard[domain.DomainStaff] = staff
	}
	return p
}

// SessionTimeout returns the idle timeout of d.
func (p *Policy) SessionTimeout(d domain.Domain) time.Duration {
	return p.timeouts[d]
}

// HardSessionTimeout returns the absolute session lifetime of d.
func (p *Policy) HardSessionTimeout(d domain.Domain) time.Duration {
	return p.hard[d]
}
