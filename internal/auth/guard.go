package auth

import (
	"fmt"

	"github.com/spec-kit/dualauth/internal/domain"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// AssertDomain fails with CrossDomainAccess unless p belongs to required.
// A zero principal never passes.
func AssertDomain(p domain.Principal, required domain.Domain) error {
	if p.IsZero() || p.Domain != required {
		return domain.NewAuthError(domain.KindCrossDomainAccess,
			fmt.Errorf("principal of domain %q used against %q", p.Domain, required))
	}
	return nil
}

// Authorize decides req for p. A permission is allowed when the principal's
// set holds it (or the wildcard). A role is allowed when the principal's role
// is in the same domain and ranks at least as high.
func Authorize(p domain.Principal, req domain.Requirement) Decision {
	if p.IsZero() || req == nil {
		return Deny
	}
	switch r := req.(type) {
	case domain.Permission:
		if r != "" && p.Permissions.Has(r) {
			return Allow
		}
	case domain.Role:
		if p.Role.AtLeast(r) {
			return Allow
		}
	}
	return Deny
}

// Require runs the domain check and then the authorization check, returning
// CrossDomainAccess or InsufficientPermission respectively.
func Require(p domain.Principal, required domain.Domain, reqs ...domain.Requirement) error {
	if err := AssertDomain(p, required); err != nil {
		return err
	}
	for _, req := range reqs {
		if Authorize(p, req) == Deny {
			return domain.NewAuthError(domain.KindInsufficientPermission,
				fmt.Errorf("%s lacks %v", p.Role, req))
		}
	}
	return nil
}
