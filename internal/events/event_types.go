package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/dualauth/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventLoginSucceeded     EventType = "login_succeeded"
	EventLoginFailed        EventType = "login_failed"
	EventMFAChallengeIssued EventType = "mfa_challenge_issued"
	EventMFAFailed          EventType = "mfa_failed"
	EventTokenRejected      EventType = "token_rejected"
	EventSecurityViolation  EventType = "security_violation"
	EventRefreshFailed      EventType = "refresh_failed"
)

// Event represents an authentication event emitted by the auth core.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Domain    domain.Domain `json:"domain"`
	Subject   string        `json:"subject,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Payload   interface{}   `json:"payload"`
}

// New stamps an event with an id and the current time.
func New(eventType EventType, d domain.Domain, subject string, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Domain:    d,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// RejectionPayload describes a rejected token or request. Reason is the
// internal error kind and is never sent to the client.
type RejectionPayload struct {
	Kind     domain.ErrorKind `json:"kind"`
	KeyID    string           `json:"kid,omitempty"`
	Issuer   string           `json:"issuer,omitempty"`
	Path     string           `json:"path,omitempty"`
	RemoteIP string           `json:"remote_ip,omitempty"`
	Detail   string           `json:"detail,omitempty"`
}

// LoginPayload describes a login outcome.
type LoginPayload struct {
	Username string           `json:"username"`
	Kind     domain.ErrorKind `json:"kind,omitempty"`
	Role     string           `json:"role,omitempty"`
	MFA      bool             `json:"mfa"`
}

// MFAPayload describes a challenge lifecycle step. The code is never included.
type MFAPayload struct {
	Username          string           `json:"username"`
	AttemptsRemaining int              `json:"attempts_remaining"`
	ExpiresAt         time.Time        `json:"expires_at"`
	Kind              domain.ErrorKind `json:"kind,omitempty"`
}
