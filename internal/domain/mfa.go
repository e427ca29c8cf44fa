package domain

import "time"

// MFAChallenge is a pending staff second-factor step. Username, ProviderSession
// and ChallengeName stay on the server and are never returned to callers.
type MFAChallenge struct {
	ChallengeToken    string
	ExpiresAt         time.Time
	AttemptsRemaining int

	Username        string
	ProviderSession string
	ChallengeName   string
}

// Expired reports whether the challenge is past its expiry at now.
func (c MFAChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Usable reports whether a code may still be submitted at now.
func (c MFAChallenge) Usable(now time.Time) bool {
	return c.AttemptsRemaining > 0 && !c.Expired(now)
}
