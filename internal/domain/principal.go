package domain

import "time"

// Default session limits. The staff hard limit caps a staff session no
// matter how active it is or how often it refreshes.
const (
	CustomerSessionTimeout     = 24 * time.Hour
	CustomerHardSessionTimeout = 30 * 24 * time.Hour
	StaffSessionTimeout        = 8 * time.Hour
	StaffHardSessionTimeout    = 8 * time.Hour
)

// DefaultHardSessionTimeout returns the hard limit of d.
func DefaultHardSessionTimeout(d Domain) time.Duration {
	if d == DomainStaff {
		return StaffHardSessionTimeout
	}
	return CustomerHardSessionTimeout
}

// Principal is the verified identity behind a request. It is derived from a
// token on every request and never stored on its own.
type Principal struct {
	ID             string
	Username       string
	Domain         Domain
	Role           Role
	Permissions    PermissionSet
	SessionTimeout time.Duration
	// HardSessionTimeout is the absolute session lifetime of the domain.
	HardSessionTimeout time.Duration
	TokenExpiresAt     time.Time
}

// IsZero reports whether p carries no identity.
func (p Principal) IsZero() bool {
	return p.ID == "" && p.Domain == ""
}

// SessionTimeoutMinutes is the configured idle timeout in whole minutes.
func (p Principal) SessionTimeoutMinutes() int {
	return int(p.SessionTimeout / time.Minute)
}

// HardSessionTimeoutMinutes is the absolute session lifetime in whole minutes.
func (p Principal) HardSessionTimeoutMinutes() int {
	return int(p.HardSessionTimeout / time.Minute)
}
