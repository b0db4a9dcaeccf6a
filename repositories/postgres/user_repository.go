package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apexmotive/dashboard-backend/models"
	"github.com/apexmotive/dashboard-backend/repositories"
)

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	tx     *sql.Tx
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// executor returns the bound transaction if present, otherwise resolves one
// from the context or falls back to the pool
func (r *UserRepository) executor(ctx context.Context) Executor {
	if r.tx != nil {
		return r.tx
	}
	return GetExecutor(ctx, r.db)
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, subject, email, first_name, last_name, is_staff, is_superuser, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := r.executor(ctx)
	_, err := executor.ExecContext(ctx, query,
		user.ID,
		user.Subject,
		user.Email,
		user.FirstName,
		user.LastName,
		user.IsStaff,
		user.IsSuperuser,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Debug("user created", zap.String("id", user.ID.String()), zap.String("subject", user.Subject))
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, subject, email, first_name, last_name, is_staff, is_superuser, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	executor := r.executor(ctx)
	user := &models.User{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Subject,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.IsStaff,
		&user.IsSuperuser,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found: %s: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetBySubject retrieves a user by normalized identity-provider subject
func (r *UserRepository) GetBySubject(ctx context.Context, subject string) (*models.User, error) {
	query := `
		SELECT id, subject, email, first_name, last_name, is_staff, is_superuser, created_at, updated_at
		FROM users
		WHERE subject = $1
	`

	executor := r.executor(ctx)
	user := &models.User{}

	err := executor.QueryRowContext(ctx, query, subject).Scan(
		&user.ID,
		&user.Subject,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.IsStaff,
		&user.IsSuperuser,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found for subject %s: %w", subject, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, subject, email, first_name, last_name, is_staff, is_superuser, created_at, updated_at
		FROM users
		WHERE email = $1
	`

	executor := r.executor(ctx)
	user := &models.User{}

	err := executor.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Subject,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.IsStaff,
		&user.IsSuperuser,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found for email %s: %w", email, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// Upsert inserts the user, or on subject conflict refreshes the profile
// fields of the existing row. The conflict branch leaves is_staff and
// is_superuser out of the SET list: operator-managed flags survive every
// login.
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (id, subject, email, first_name, last_name, is_staff, is_superuser, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (subject) DO UPDATE
		SET email = EXCLUDED.email,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, subject, email, first_name, last_name, is_staff, is_superuser, created_at, updated_at
	`

	executor := r.executor(ctx)
	persisted := &models.User{}

	err := executor.QueryRowContext(ctx, query,
		user.ID,
		user.Subject,
		user.Email,
		user.FirstName,
		user.LastName,
		user.IsStaff,
		user.IsSuperuser,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(
		&persisted.ID,
		&persisted.Subject,
		&persisted.Email,
		&persisted.FirstName,
		&persisted.LastName,
		&persisted.IsStaff,
		&persisted.IsSuperuser,
		&persisted.CreatedAt,
		&persisted.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	r.logger.Debug("user upserted",
		zap.String("id", persisted.ID.String()),
		zap.String("subject", persisted.Subject))
	return persisted, nil
}

// UpdateProfile updates the profile fields of an existing user.
// Authorization flags are left untouched.
func (r *UserRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET email = $2,
		    first_name = $3,
		    last_name = $4,
		    updated_at = $5
		WHERE id = $1
	`

	executor := r.executor(ctx)
	result, err := executor.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s: %w", user.ID, sql.ErrNoRows)
	}

	r.logger.Debug("user profile updated", zap.String("id", user.ID.String()))
	return nil
}

// SetStaff updates the operator-managed staff flag
func (r *UserRepository) SetStaff(ctx context.Context, id uuid.UUID, isStaff bool) error {
	query := `
		UPDATE users
		SET is_staff = $2,
		    updated_at = $3
		WHERE id = $1
	`

	executor := r.executor(ctx)
	result, err := executor.ExecContext(ctx, query, id, isStaff, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set staff flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s: %w", id, sql.ErrNoRows)
	}

	r.logger.Debug("staff flag updated", zap.String("id", id.String()), zap.Bool("is_staff", isStaff))
	return nil
}

// Delete deletes a user
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM users WHERE id = $1`

	executor := r.executor(ctx)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s: %w", id, sql.ErrNoRows)
	}

	r.logger.Debug("user deleted", zap.String("id", id.String()))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *UserRepository) WithTx(tx repositories.Transaction) repositories.UserRepository {
	bound := &UserRepository{
		db:     r.db,
		logger: r.logger,
	}
	if pgTx, ok := tx.(*Transaction); ok {
		bound.tx = pgTx.GetTx()
	}
	return bound
}
