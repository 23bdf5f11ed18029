package credentials

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLen is the minimum accepted password length
const MinPasswordLen = 8

// ErrPasswordTooShort is returned when a password is below the minimum length
var ErrPasswordTooShort = errors.New("password too short")

// Hasher hashes and checks local account passwords
type Hasher interface {
	// Hash hashes a plaintext password
	Hash(password string) (string, error)

	// Matches compares a plaintext password with a stored hash
	Matches(password, hash string) bool
}

// BcryptHasher implements Hasher with bcrypt at the default cost
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a bcrypt hasher. A non-positive cost selects the
// bcrypt default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash hashes a plaintext password using bcrypt
func (h *BcryptHasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordLen {
		return "", ErrPasswordTooShort
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Matches compares a plaintext password with a stored hash
func (h *BcryptHasher) Matches(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
