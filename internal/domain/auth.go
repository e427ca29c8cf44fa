package domain

import (
	"fmt"
	"strings"
	"time"
)

// Domain identifies one of the two independent identity contexts.
type Domain string

const (
	DomainCustomer Domain = "customer"
	DomainStaff    Domain = "staff"
)

// Domains lists every supported domain in a stable order.
var Domains = []Domain{DomainCustomer, DomainStaff}

// ParseDomain accepts only the exact lowercase domain names.
func ParseDomain(s string) (Domain, error) {
	switch Domain(strings.TrimSpace(s)) {
	case DomainCustomer:
		return DomainCustomer, nil
	case DomainStaff:
		return DomainStaff, nil
	default:
		return "", fmt.Errorf("unknown domain %q", s)
	}
}

// Valid reports whether d is one of the supported domains.
func (d Domain) Valid() bool {
	return d == DomainCustomer || d == DomainStaff
}

func (d Domain) String() string { return string(d) }

// TokenSet is what an identity provider hands back after a successful login or refresh.
type TokenSet struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// AuthToken is the decoded, verified view of a bearer token.
type AuthToken struct {
	Issuer    string
	Audience  []string
	Subject   string
	Username  string
	ExpiresAt time.Time
	IssuedAt  time.Time
	NotBefore time.Time
	Groups    []string
	// Custom holds the provider specific claims ("custom:*").
	Custom map[string]any
}
