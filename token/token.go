package token

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidToken is returned for a malformed, forged, or expired token
	ErrInvalidToken = errors.New("invalid token")

	// ErrTypeMismatch is returned when the signature is valid but the token
	// was minted for a different phase than the caller expects
	ErrTypeMismatch = errors.New("token type mismatch")
)

// Type discriminates the three token phases. Every verification call site
// switches exhaustively over this set; a token of one type never validates
// under another type's check.
type Type string

const (
	// TypeAccess grants authenticated API access
	TypeAccess Type = "ACCESS"

	// TypeSignupPending binds profile completion to an existing incomplete account
	TypeSignupPending Type = "SIGNUP_PENDING"

	// TypePreSignup carries a verified Google identity that has no account row yet
	TypePreSignup Type = "PRE_SIGNUP"
)

// known reports whether t is a member of the closed type set
func (t Type) known() bool {
	switch t {
	case TypeAccess, TypeSignupPending, TypePreSignup:
		return true
	}
	return false
}

// Extra holds the type-specific claims carried alongside the subject
type Extra struct {
	Email      string
	ProviderID string
}

// Decoded is the verified content of a token
type Decoded struct {
	Subject    string
	Type       Type
	Email      string
	ProviderID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Keyholder owns the process-wide HMAC signing key. It is constructed once at
// startup from configuration and passed by reference into the codec; there is
// no ambient key state.
type Keyholder struct {
	secret []byte
}

// minSecretLen guards against HS256 keys shorter than the hash size
const minSecretLen = 32

// NewKeyholder creates a key holder from the configured secret
func NewKeyholder(secret string) (*Keyholder, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", minSecretLen, len(secret))
	}
	return &Keyholder{secret: []byte(secret)}, nil
}
