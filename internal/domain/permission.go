package domain

import "sort"

// Permission is a named capability such as "listing:create".
type Permission string

func (Permission) requirement() {}

// Customer permissions.
const (
	PermProfileRead       Permission = "profile:read"
	PermProfileUpdate     Permission = "profile:update"
	PermListingRead       Permission = "listing:read"
	PermListingCreate     Permission = "listing:create"
	PermMessageSend       Permission = "message:send"
	PermFavoritesManage   Permission = "favorites:manage"
	PermListingBulkImport Permission = "listing:bulk-import"
	PermInventoryManage   Permission = "inventory:manage"
	PermLeadManage        Permission = "lead:manage"
	PermAnalyticsBasic    Permission = "analytics:basic"
	PermAnalyticsAdvanced Permission = "analytics:advanced"
	PermListingFeature    Permission = "listing:feature"
	PermAPIAccess         Permission = "api:access"
)

// Staff permissions.
const (
	PermDashboardView   Permission = "dashboard:view"
	PermListingReview   Permission = "listing:review"
	PermUserView        Permission = "user:view"
	PermSupportRespond  Permission = "support:respond"
	PermListingModerate Permission = "listing:moderate"
	PermUserSuspend     Permission = "user:suspend"
	PermReportView      Permission = "report:view"
	PermUserManage      Permission = "user:manage"
	PermStaffManage     Permission = "staff:manage"
	PermSettingsManage  Permission = "settings:manage"
	PermReportExport    Permission = "report:export"
	PermAuditView       Permission = "audit:view"
)

// Requirement is what an authorization check asks for: a Permission or a Role.
type Requirement interface {
	requirement()
}

// PermissionSet is an immutable set of permissions. The wildcard is a flag,
// never a member, so no permission string can turn into it.
type PermissionSet struct {
	perms    map[Permission]struct{}
	wildcard bool
}

// NewPermissionSet builds a set from perms.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := PermissionSet{perms: make(map[Permission]struct{}, len(perms))}
	for _, p := range perms {
		if p == "" {
			continue
		}
		set.perms[p] = struct{}{}
	}
	return set
}

// WithWildcard returns a copy of s that matches every permission.
func (s PermissionSet) WithWildcard() PermissionSet {
	out := s.Union(PermissionSet{})
	out.wildcard = true
	return out
}

// IsWildcard reports whether the set matches any permission.
func (s PermissionSet) IsWildcard() bool { return s.wildcard }

// Contains reports exact membership, ignoring the wildcard.
func (s PermissionSet) Contains(p Permission) bool {
	_, ok := s.perms[p]
	return ok
}

// Has reports whether p is granted, honoring the wildcard.
func (s PermissionSet) Has(p Permission) bool {
	return s.wildcard || s.Contains(p)
}

// Union returns a new set holding the members of s and other.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := PermissionSet{
		perms:    make(map[Permission]struct{}, len(s.perms)+len(other.perms)),
		wildcard: s.wildcard || other.wildcard,
	}
	for p := range s.perms {
		out.perms[p] = struct{}{}
	}
	for p := range other.perms {
		out.perms[p] = struct{}{}
	}
	return out
}

// Len returns the number of explicit members.
func (s PermissionSet) Len() int { return len(s.perms) }

// Slice returns the explicit members sorted.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted members as strings, with "*" appended for the wildcard.
func (s PermissionSet) Strings() []string {
	perms := s.Slice()
	out := make([]string, 0, len(perms)+1)
	for _, p := range perms {
		out = append(out, string(p))
	}
	if s.wildcard {
		out = append(out, "*")
	}
	return out
}
