package dto

import (
	"time"

	"github.com/spec-kit/dualauth/internal/domain"
)

// MFAVerifyRequest payload for answering a staff challenge.
type MFAVerifyRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

// ChallengeResponse describes a pending second factor.
type ChallengeResponse struct {
	ChallengeToken    string    `json:"challenge_token"`
	ExpiresAt         time.Time `json:"expires_at"`
	AttemptsRemaining int       `json:"attempts_remaining"`
}

// StaffLoginResponse holds a challenge, or a completed login when no second
// factor was requested.
type StaffLoginResponse struct {
	MFARequired bool               `json:"mfa_required"`
	Challenge   *ChallengeResponse `json:"challenge,omitempty"`
	Login       *LoginResponse     `json:"login,omitempty"`
}

// NewChallengeResponse converts the public view of a challenge.
func NewChallengeResponse(ch domain.MFAChallenge) *ChallengeResponse {
	return &ChallengeResponse{
		ChallengeToken:    ch.ChallengeToken,
		ExpiresAt:         ch.ExpiresAt,
		AttemptsRemaining: ch.AttemptsRemaining,
	}
}
