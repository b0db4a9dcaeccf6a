package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apexmotive/dashboard-backend/internal/observability"
	"github.com/apexmotive/dashboard-backend/models"
	"github.com/apexmotive/dashboard-backend/repositories"
)

// AuditService records authentication events asynchronously. Events are
// buffered and persisted by background workers so that recording never adds
// latency to the authentication hot path. When the buffer is full the event
// is dropped rather than blocking a request.
type AuditService struct {
	authEvents  repositories.AuthEventRepository
	logger      *zap.Logger
	eventChan   chan *models.AuthEvent
	workerCount int
	bufferSize  int
	retention   time.Duration
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int           // Size of the event buffer channel
	WorkerCount int           // Number of concurrent workers
	Retention   time.Duration // How long persisted events are kept
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  4096,
		WorkerCount: 2,
		Retention:   720 * time.Hour, // 30 days
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(authEvents repositories.AuthEventRepository, logger *zap.Logger, config Config) *AuditService {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		authEvents:  authEvents,
		logger:      logger,
		eventChan:   make(chan *models.AuthEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		retention:   config.Retention,
		ctx:         ctx,
		cancel:      cancel,
		started:     false,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started auth event recorder",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service.
// Waits for all pending events to be processed.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	s.logger.Info("stopping auth event recorder", zap.Int("pending_events", len(s.eventChan)))

	// Close the event channel (no more events will be accepted)
	close(s.eventChan)

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("auth event recorder stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("auth event recorder stop timeout after %v", timeout)
	}
}

// LogEvent records an event asynchronously (non-blocking).
// Returns immediately; the event is persisted in the background. A full
// buffer drops the event: diagnostics must never slow down or fail an
// authentication attempt.
func (s *AuditService) LogEvent(event *models.AuthEvent) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	select {
	case s.eventChan <- event:
		return nil
	default:
		observability.RecordAuthEventDropped()
		s.logger.Warn("auth event buffer full, dropping event",
			zap.String("outcome", string(event.Outcome)),
			zap.String("subject", event.Subject))
		return fmt.Errorf("auth event buffer full")
	}
}

// LogEventBlocking records an event synchronously (blocking).
// Waits until the event is queued or the context is cancelled.
func (s *AuditService) LogEventBlocking(ctx context.Context, event *models.AuthEvent) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	select {
	case s.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return fmt.Errorf("audit service stopped")
	}
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("auth event worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to persist auth event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("outcome", string(event.Outcome)),
				zap.String("subject", event.Subject))
		}
	}

	s.logger.Debug("auth event worker stopped", zap.Int("worker_id", id))
}

// processEvent persists a single authentication event
func (s *AuditService) processEvent(event *models.AuthEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.authEvents.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}

	return nil
}

// CleanupOldEvents removes persisted events older than the retention period
func (s *AuditService) CleanupOldEvents(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention)

	deleted, err := s.authEvents.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up auth events: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("cleaned up old auth events",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}

	return nil
}

// StartCleanupWorker runs retention cleanup on the given interval until the
// context is cancelled
func (s *AuditService) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.CleanupOldEvents(ctx); err != nil {
					s.logger.Error("auth event cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// Convenience methods for recording common outcomes

// LogAccepted records a successful authentication for a provisioned user
func (s *AuditService) LogAccepted(user *models.User, requestID, ipAddress, userAgent string) error {
	event := models.NewAuthEvent(models.AuthOutcomeAccepted).
		WithSubject(user.Subject).
		WithUser(user.ID).
		WithRequest(requestID, ipAddress, userAgent)

	return s.LogEvent(event)
}

// LogRejected records a failed authentication with its server-side reason.
// The subject may be empty when the token was too malformed to decode one.
func (s *AuditService) LogRejected(subject, reason, requestID, ipAddress, userAgent string) error {
	event := models.NewAuthEvent(models.AuthOutcomeRejected).
		WithSubject(subject).
		WithReason(reason).
		WithRequest(requestID, ipAddress, userAgent)

	return s.LogEvent(event)
}

// LogLockedOut records an attempt rejected by the failed-attempt lockout
func (s *AuditService) LogLockedOut(subject, requestID, ipAddress, userAgent string) error {
	event := models.NewAuthEvent(models.AuthOutcomeLockedOut).
		WithSubject(subject).
		WithReason("locked_out").
		WithRequest(requestID, ipAddress, userAgent)

	return s.LogEvent(event)
}
