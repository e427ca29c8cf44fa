package auth

import "golang.org/x/crypto/bcrypt"

// dummyHash is compared against when a username does not exist so unknown
// and known users take the same time to reject.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dualauth-timing-equalizer"), bcrypt.DefaultCost)

// HashPassword hashes a plaintext password with configured cost.
func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword verifies a password against its hashed value.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

// BurnPasswordCheck spends the cost of one bcrypt comparison and always fails.
func BurnPasswordCheck(plain string) error {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(plain))
	return bcrypt.ErrMismatchedHashAndPassword
}
