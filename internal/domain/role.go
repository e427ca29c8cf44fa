package domain

import (
	"fmt"
	"strings"
)

// Role is a customer tier or a staff role. The zero value is no role.
type Role struct {
	domain     Domain
	name       string
	precedence int
}

// Customer tiers, lowest precedence first.
var (
	TierIndividual = Role{domain: DomainCustomer, name: "individual", precedence: 1}
	TierDealer     = Role{domain: DomainCustomer, name: "dealer", precedence: 2}
	TierPremium    = Role{domain: DomainCustomer, name: "premium", precedence: 3}
)

// Staff roles, lowest precedence first.
var (
	RoleTeamMember = Role{domain: DomainStaff, name: "team-member", precedence: 1}
	RoleManager    = Role{domain: DomainStaff, name: "manager", precedence: 2}
	RoleAdmin      = Role{domain: DomainStaff, name: "admin", precedence: 3}
	RoleSuperAdmin = Role{domain: DomainStaff, name: "super-admin", precedence: 4}
)

var hierarchies = map[Domain][]Role{
	DomainCustomer: {TierIndividual, TierDealer, TierPremium},
	DomainStaff:    {RoleTeamMember, RoleManager, RoleAdmin, RoleSuperAdmin},
}

// roleAliases covers names the identity providers use for the same staff roles.
var roleAliases = map[Domain]map[string]Role{
	DomainCustomer: {},
	DomainStaff: {
		"support":    RoleTeamMember,
		"teammember": RoleTeamMember,
		"moderator":  RoleManager,
		"superadmin": RoleSuperAdmin,
	},
}

// Hierarchy returns the roles of d ordered by ascending precedence.
func Hierarchy(d Domain) []Role {
	roles := hierarchies[d]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// ParseRole resolves a group or claim value to a role of domain d.
func ParseRole(d Domain, name string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	for _, r := range hierarchies[d] {
		if r.name == normalized {
			return r, nil
		}
	}
	if r, ok := roleAliases[d][strings.ReplaceAll(normalized, "-", "")]; ok {
		return r, nil
	}
	return Role{}, fmt.Errorf("unknown %s role %q", d, name)
}

// Domain returns the domain the role belongs to.
func (r Role) Domain() Domain { return r.domain }

// Name returns the canonical role name.
func (r Role) Name() string { return r.name }

// Precedence orders roles inside one domain; higher outranks lower.
func (r Role) Precedence() int { return r.precedence }

// IsZero reports whether r is the empty role.
func (r Role) IsZero() bool { return r.precedence == 0 }

// AtLeast reports whether r is in the same domain as other and not below it.
func (r Role) AtLeast(other Role) bool {
	if r.IsZero() || other.IsZero() || r.domain != other.domain {
		return false
	}
	return r.precedence >= other.precedence
}

func (r Role) String() string {
	if r.IsZero() {
		return ""
	}
	return r.name
}

// MarshalText encodes the role as its canonical name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.name), nil
}

func (Role) requirement() {}
