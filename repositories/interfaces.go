package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/keydrop/server/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert or update violates a uniqueness
	// constraint. The storage-level unique index is the final arbiter for
	// concurrent signup completions; callers translate this into a conflict.
	ErrDuplicate = errors.New("duplicate key")
)

// UserRepository handles account persistence. All uniqueness invariants
// (email, provider+provider_id) are enforced atomically at the storage layer.
type UserRepository interface {
	// Create inserts a new user
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByEmail retrieves a user by email
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByProviderAndProviderID retrieves a user by federated identity key
	GetByProviderAndProviderID(ctx context.Context, provider models.Provider, providerID string) (*models.User, error)

	// ExistsByEmail reports whether any user owns the email
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// Update persists changes to an existing user
	Update(ctx context.Context, user *models.User) error
}

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// Automatically commits if function succeeds, rolls back on error.
	// Repositories pick the transaction up from the context.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}
