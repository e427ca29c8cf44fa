package domain

import "time"

// CustomerStatus represents lifecycle states for a customer account.
type CustomerStatus string

const (
	CustomerStatusActive    CustomerStatus = "ACTIVE"
	CustomerStatusSuspended CustomerStatus = "SUSPENDED"
)

// Customer is an account in the development customer user pool.
type Customer struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Tier         string
	Confirmed    bool
	Status       CustomerStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
