package domain

import "time"

// StaffMember is an account in the development staff user pool.
type StaffMember struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	// MFASecret is the raw TOTP seed; empty means no second factor enrolled.
	MFASecret []byte
	// MFALastCounter is the last accepted TOTP step, used to reject replays.
	MFALastCounter *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
