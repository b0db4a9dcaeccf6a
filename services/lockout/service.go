package lockout

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/apexmotive/dashboard-backend/internal/observability"
	"github.com/apexmotive/dashboard-backend/repositories"
	"github.com/apexmotive/dashboard-backend/repositories/postgres"
)

const (
	// DefaultMaxFailures is the number of failed attempts within the window
	// that locks a scope out.
	DefaultMaxFailures = 10

	// DefaultWindow is the sliding window over which failures are counted.
	DefaultWindow = 15 * time.Minute
)

// Config configures the lockout service
type Config struct {
	Enabled     bool
	MaxFailures int
	Window      time.Duration
}

// LockoutStatus represents the lockout state of a scope
type LockoutStatus struct {
	Locked           bool
	FailuresInWindow int
	RetryAt          time.Time
}

// LockoutService throttles repeated failed authentication attempts using a
// sliding window over PostgreSQL. Attempts are scoped to the token's subject
// when one can be decoded, falling back to the remote address.
type LockoutService struct {
	db        *postgres.DB
	txManager repositories.TransactionManager
	cfg       Config
	logger    *zap.Logger
}

// NewLockoutService creates a new LockoutService instance
func NewLockoutService(db *postgres.DB, txManager repositories.TransactionManager, cfg Config, logger *zap.Logger) *LockoutService {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &LockoutService{
		db:        db,
		txManager: txManager,
		cfg:       cfg,
		logger:    logger,
	}
}

// CheckLocked reports whether the scope is currently locked out
func (s *LockoutService) CheckLocked(ctx context.Context, subject, remoteAddr string) (*LockoutStatus, error) {
	if !s.cfg.Enabled {
		return &LockoutStatus{}, nil
	}

	scopeKey := s.buildScopeKey(subject, remoteAddr)
	now := time.Now()
	windowStart := now.Add(-s.cfg.Window)

	executor := postgres.GetExecutor(ctx, s.db)
	count, err := s.countFailures(ctx, executor, scopeKey, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to check lockout: %w", err)
	}

	status := &LockoutStatus{FailuresInWindow: count}
	if count >= s.cfg.MaxFailures {
		status.Locked = true
		retryAt, err := s.lockLiftsAt(ctx, executor, scopeKey, windowStart)
		if err != nil {
			return nil, fmt.Errorf("failed to compute retry time: %w", err)
		}
		status.RetryAt = retryAt
	}

	return status, nil
}

// RecordFailure records a failed attempt and returns the resulting lockout
// state. The count and insert run in one transaction so the pair is atomic.
func (s *LockoutService) RecordFailure(ctx context.Context, subject, remoteAddr string) (*LockoutStatus, error) {
	if !s.cfg.Enabled {
		return &LockoutStatus{}, nil
	}

	scopeKey := s.buildScopeKey(subject, remoteAddr)
	now := time.Now()
	windowStart := now.Add(-s.cfg.Window)

	var status *LockoutStatus
	err := s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		executor := postgres.GetExecutor(txCtx, s.db)

		count, err := s.countFailures(txCtx, executor, scopeKey, windowStart)
		if err != nil {
			return err
		}

		insertQuery := `
			INSERT INTO auth_lockout_events (scope_key, timestamp)
			VALUES ($1, $2)
		`
		if _, err := executor.ExecContext(txCtx, insertQuery, scopeKey, now); err != nil {
			return fmt.Errorf("failed to insert lockout event: %w", err)
		}

		total := count + 1
		status = &LockoutStatus{
			Locked:           total >= s.cfg.MaxFailures,
			FailuresInWindow: total,
		}
		if status.Locked {
			status.RetryAt = now.Add(s.cfg.Window)
		}

		if total == s.cfg.MaxFailures {
			observability.RecordLockout()
			s.logger.Warn("lockout threshold reached",
				zap.String("scope_key", scopeKey),
				zap.Int("failures", total),
				zap.Duration("window", s.cfg.Window))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record failure: %w", err)
	}

	return status, nil
}

// ClearFailures removes the failure history for a scope. Called after a
// successful authentication so old failures do not linger.
func (s *LockoutService) ClearFailures(ctx context.Context, subject, remoteAddr string) error {
	if !s.cfg.Enabled {
		return nil
	}

	scopeKey := s.buildScopeKey(subject, remoteAddr)

	query := `DELETE FROM auth_lockout_events WHERE scope_key = $1`

	executor := postgres.GetExecutor(ctx, s.db)
	if _, err := executor.ExecContext(ctx, query, scopeKey); err != nil {
		return fmt.Errorf("failed to clear lockout events: %w", err)
	}

	return nil
}

// countFailures counts failures for a scope since the window start
func (s *LockoutService) countFailures(ctx context.Context, executor postgres.Executor, scopeKey string, windowStart time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM auth_lockout_events
		WHERE scope_key = $1
		  AND timestamp >= $2
	`

	var count int
	if err := executor.QueryRowContext(ctx, query, scopeKey, windowStart).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count lockout events: %w", err)
	}
	return count, nil
}

// lockLiftsAt returns when the oldest failure in the window ages out
func (s *LockoutService) lockLiftsAt(ctx context.Context, executor postgres.Executor, scopeKey string, windowStart time.Time) (time.Time, error) {
	query := `
		SELECT MIN(timestamp)
		FROM auth_lockout_events
		WHERE scope_key = $1
		  AND timestamp >= $2
	`

	var oldest sql.NullTime
	if err := executor.QueryRowContext(ctx, query, scopeKey, windowStart).Scan(&oldest); err != nil {
		return time.Time{}, fmt.Errorf("failed to query oldest lockout event: %w", err)
	}
	if !oldest.Valid {
		return time.Time{}, nil
	}
	return oldest.Time.Add(s.cfg.Window), nil
}

// buildScopeKey builds a unique key for the lockout scope
func (s *LockoutService) buildScopeKey(subject, remoteAddr string) string {
	if subject != "" {
		return "subject:" + subject
	}
	return "addr:" + remoteAddr
}

// CleanupOldEvents removes lockout events older than the retention period
// to keep the table size manageable
func (s *LockoutService) CleanupOldEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoffTime := time.Now().Add(-olderThan)

	query := `
		DELETE FROM auth_lockout_events
		WHERE timestamp < $1
	`

	executor := postgres.GetExecutor(ctx, s.db)
	result, err := executor.ExecContext(ctx, query, cutoffTime)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup lockout events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info("cleaned up old lockout events",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("cutoff_time", cutoffTime))

	return rowsAffected, nil
}

// StartCleanupWorker runs retention cleanup on the given interval until the
// context is canceled.
func (s *LockoutService) StartCleanupWorker(ctx context.Context, interval time.Duration, retention time.Duration) {
	ticker := time.NewTicker(interval)

	s.logger.Info("started lockout cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.CleanupOldEvents(ctx, retention); err != nil {
					s.logger.Error("failed to cleanup lockout events", zap.Error(err))
				}
			}
		}
	}()
}
