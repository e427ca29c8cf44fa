// Package idp defines the identity provider contract used by the login flow.
package idp

import (
	"context"

	"github.com/spec-kit/dualauth/internal/domain"
)

// Challenge names understood by the MFA handler.
const (
	ChallengeSoftwareToken = "SOFTWARE_TOKEN_MFA"
	ChallengeSMS           = "SMS_MFA"
)

// AuthResult is the outcome of a password step: either tokens, or a
// challenge that must be answered with RespondToMFA.
type AuthResult struct {
	Tokens        *domain.TokenSet
	ChallengeName string
	Session       string
}

// ChallengeRequired reports whether a second factor must be supplied.
func (r AuthResult) ChallengeRequired() bool {
	return r.ChallengeName != ""
}

// SupportedChallenge reports whether name is an MFA challenge this service can answer.
func SupportedChallenge(name string) bool {
	return name == ChallengeSoftwareToken || name == ChallengeSMS
}

// Provider authenticates users of one domain. Errors are *domain.AuthError
// values whose kind tells the caller what went wrong.
type Provider interface {
	InitiateAuth(ctx context.Context, username, password string) (AuthResult, error)
	RespondToMFA(ctx context.Context, username, session, challengeName, code string) (domain.TokenSet, error)
	Refresh(ctx context.Context, username, refreshToken string) (domain.TokenSet, error)
}
