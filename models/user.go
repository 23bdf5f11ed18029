package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies how an account authenticates
type Provider string

const (
	ProviderLocal  Provider = "LOCAL"
	ProviderGoogle Provider = "GOOGLE"
)

// User represents an account. The email doubles as the login identifier for
// LOCAL accounts; GOOGLE accounts are additionally keyed by (provider, provider_id).
// A row only ever exists for a completed signup: local signups insert immediately,
// Google signups insert at profile completion.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash *string   `json:"-" db:"password_hash"` // LOCAL accounts only
	Nickname     *string   `json:"nickname" db:"nickname"`
	BirthDate    *string   `json:"birthDate" db:"birth_date"` // YYYY-MM-DD
	DJLevel      *string   `json:"djLevel" db:"dj_level"`
	Provider     Provider  `json:"provider" db:"provider"`
	ProviderID   *string   `json:"-" db:"provider_id"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewLocalUser creates a LOCAL user with a full profile
func NewLocalUser(email, passwordHash, nickname, birthDate, djLevel string) *User {
	now := time.Now()
	return &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: &passwordHash,
		Nickname:     &nickname,
		BirthDate:    &birthDate,
		DJLevel:      &djLevel,
		Provider:     ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewGoogleUser creates a GOOGLE user with a full profile. This is the only
// creation path for federated accounts and runs at profile completion, never
// at first login.
func NewGoogleUser(email, providerID, nickname, birthDate, djLevel string) *User {
	now := time.Now()
	return &User{
		ID:         uuid.New(),
		Email:      email,
		Nickname:   &nickname,
		BirthDate:  &birthDate,
		DJLevel:    &djLevel,
		Provider:   ProviderGoogle,
		ProviderID: &providerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ProfileComplete reports whether all required profile fields are set
func (u *User) ProfileComplete() bool {
	return u.Nickname != nil && u.BirthDate != nil && u.DJLevel != nil
}

// CompleteProfile fills in the required profile fields
func (u *User) CompleteProfile(nickname, birthDate, djLevel string) {
	u.Nickname = &nickname
	u.BirthDate = &birthDate
	u.DJLevel = &djLevel
	u.UpdatedAt = time.Now()
}
