package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/apexmotive/dashboard-backend/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
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

// UserRepository handles user data operations
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetBySubject retrieves a user by normalized identity-provider subject
	GetBySubject(ctx context.Context, subject string) (*models.User, error)

	// GetByEmail retrieves a user by email
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// Upsert inserts the user, or on subject conflict refreshes the profile
	// fields of the existing row. Either way it returns the persisted row.
	// Authorization flags are never written by this call.
	Upsert(ctx context.Context, user *models.User) (*models.User, error)

	// UpdateProfile updates the profile fields (email, first name, last name)
	// of an existing user. Authorization flags are left untouched.
	UpdateProfile(ctx context.Context, user *models.User) error

	// SetStaff updates the operator-managed staff flag
	SetStaff(ctx context.Context, id uuid.UUID, isStaff bool) error

	// Delete deletes a user
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) UserRepository
}

// AuthEventRepository handles authentication event data operations
type AuthEventRepository interface {
	// Insert inserts a new authentication event
	Insert(ctx context.Context, event *models.AuthEvent) error

	// ListRecent retrieves the most recent events, newest first
	ListRecent(ctx context.Context, limit int) ([]*models.AuthEvent, error)

	// ListBySubject retrieves recent events for a subject, newest first
	ListBySubject(ctx context.Context, subject string, limit int) ([]*models.AuthEvent, error)

	// DeleteOlderThan removes events recorded before the given time and
	// returns the number of rows removed
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) AuthEventRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users      UserRepository
	AuthEvents AuthEventRepository
}
