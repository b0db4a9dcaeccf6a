package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/apexmotive/dashboard-backend/models"
	"github.com/apexmotive/dashboard-backend/repositories"
)

// AuthEventRepository implements the repositories.AuthEventRepository interface
type AuthEventRepository struct {
	db     *DB
	tx     *sql.Tx
	logger *zap.Logger
}

// NewAuthEventRepository creates a new auth event repository
func NewAuthEventRepository(db *DB, logger *zap.Logger) repositories.AuthEventRepository {
	return &AuthEventRepository{
		db:     db,
		logger: logger,
	}
}

// executor returns the bound transaction if present, otherwise resolves one
// from the context or falls back to the pool
func (r *AuthEventRepository) executor(ctx context.Context) Executor {
	if r.tx != nil {
		return r.tx
	}
	return GetExecutor(ctx, r.db)
}

// Insert inserts a new authentication event
func (r *AuthEventRepository) Insert(ctx context.Context, event *models.AuthEvent) error {
	query := `
		INSERT INTO auth_events (
			id, subject, user_id, outcome, reason,
			ip_address, user_agent, request_id, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	executor := r.executor(ctx)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.Subject,
		event.UserID,
		event.Outcome,
		event.Reason,
		event.IPAddress,
		event.UserAgent,
		event.RequestID,
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}

	r.logger.Debug("auth event inserted",
		zap.String("id", event.ID.String()),
		zap.String("outcome", string(event.Outcome)))
	return nil
}

// ListRecent retrieves the most recent events, newest first
func (r *AuthEventRepository) ListRecent(ctx context.Context, limit int) ([]*models.AuthEvent, error) {
	query := `
		SELECT id, subject, user_id, outcome, reason,
		       ip_address, user_agent, request_id, timestamp
		FROM auth_events
		ORDER BY timestamp DESC
		LIMIT $1
	`

	return r.queryAuthEvents(ctx, query, limit)
}

// ListBySubject retrieves recent events for a subject, newest first
func (r *AuthEventRepository) ListBySubject(ctx context.Context, subject string, limit int) ([]*models.AuthEvent, error) {
	query := `
		SELECT id, subject, user_id, outcome, reason,
		       ip_address, user_agent, request_id, timestamp
		FROM auth_events
		WHERE subject = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	return r.queryAuthEvents(ctx, query, subject, limit)
}

// DeleteOlderThan removes events recorded before the given time
func (r *AuthEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM auth_events WHERE timestamp < $1`

	executor := r.executor(ctx)
	result, err := executor.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete auth events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		r.logger.Debug("auth events pruned", zap.Int64("count", rowsAffected))
	}
	return rowsAffected, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *AuthEventRepository) WithTx(tx repositories.Transaction) repositories.AuthEventRepository {
	bound := &AuthEventRepository{
		db:     r.db,
		logger: r.logger,
	}
	if pgTx, ok := tx.(*Transaction); ok {
		bound.tx = pgTx.GetTx()
	}
	return bound
}

// queryAuthEvents is a helper method to query multiple auth events
func (r *AuthEventRepository) queryAuthEvents(ctx context.Context, query string, args ...interface{}) ([]*models.AuthEvent, error) {
	executor := r.executor(ctx)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query auth events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuthEvent
	for rows.Next() {
		event := &models.AuthEvent{}
		err := rows.Scan(
			&event.ID,
			&event.Subject,
			&event.UserID,
			&event.Outcome,
			&event.Reason,
			&event.IPAddress,
			&event.UserAgent,
			&event.RequestID,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auth event rows: %w", err)
	}

	return events, nil
}
