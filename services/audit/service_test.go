package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apexmotive/dashboard-backend/models"
	"github.com/apexmotive/dashboard-backend/repositories"
)

// MockAuthEventRepository is a mock implementation of AuthEventRepository
type MockAuthEventRepository struct {
	mock.Mock
	mu             sync.Mutex
	insertedEvents []*models.AuthEvent
}

func (m *MockAuthEventRepository) Insert(ctx context.Context, event *models.AuthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, event)
	m.insertedEvents = append(m.insertedEvents, event)
	return args.Error(0)
}

func (m *MockAuthEventRepository) ListRecent(ctx context.Context, limit int) ([]*models.AuthEvent, error) {
	args := m.Called(ctx, limit)
	if events := args.Get(0); events != nil {
		return events.([]*models.AuthEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuthEventRepository) ListBySubject(ctx context.Context, subject string, limit int) ([]*models.AuthEvent, error) {
	args := m.Called(ctx, subject, limit)
	if events := args.Get(0); events != nil {
		return events.([]*models.AuthEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuthEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAuthEventRepository) WithTx(tx repositories.Transaction) repositories.AuthEventRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.AuthEventRepository)
}

func (m *MockAuthEventRepository) GetInsertedEvents() []*models.AuthEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertedEvents
}

func TestAuditService_StartStop(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)
	config := Config{
		BufferSize:  10,
		WorkerCount: 2,
	}

	service := NewAuditService(mockRepo, logger, config)

	// Start service
	err := service.Start()
	require.NoError(t, err)

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	err = service.Start()
	assert.Error(t, err)

	// Stop service
	err = service.Stop(5 * time.Second)
	require.NoError(t, err)
}

func TestAuditService_LogEvent(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)
	config := Config{
		BufferSize:  100,
		WorkerCount: 2,
	}

	service := NewAuditService(mockRepo, logger, config)
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	event := models.NewAuthEvent(models.AuthOutcomeRejected).
		WithSubject("auth0.abc123").
		WithReason("expired").
		WithRequest("req-1", "203.0.113.7", "curl/8.0")

	// Log event (non-blocking)
	err = service.LogEvent(event)
	require.NoError(t, err)

	// Wait for processing
	time.Sleep(100 * time.Millisecond)

	// Verify event was processed
	insertedEvents := mockRepo.GetInsertedEvents()
	require.Equal(t, 1, len(insertedEvents))
	assert.Equal(t, models.AuthOutcomeRejected, insertedEvents[0].Outcome)
	assert.Equal(t, "expired", insertedEvents[0].Reason)
	assert.Equal(t, "auth0.abc123", insertedEvents[0].Subject)
}

func TestAuditService_LogEventBlocking(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)
	config := Config{
		BufferSize:  100,
		WorkerCount: 2,
	}

	service := NewAuditService(mockRepo, logger, config)
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	event := models.NewAuthEvent(models.AuthOutcomeAccepted).WithSubject("auth0.abc123")

	ctx := context.Background()
	err = service.LogEventBlocking(ctx, event)
	require.NoError(t, err)

	// Wait for processing
	time.Sleep(100 * time.Millisecond)

	insertedEvents := mockRepo.GetInsertedEvents()
	assert.GreaterOrEqual(t, len(insertedEvents), 1)
}

func TestAuditService_MultipleEvents(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)
	config := Config{
		BufferSize:  100,
		WorkerCount: 3,
	}

	service := NewAuditService(mockRepo, logger, config)
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	eventCount := 50
	for i := 0; i < eventCount; i++ {
		event := models.NewAuthEvent(models.AuthOutcomeRejected).WithReason("bad_signature")
		err = service.LogEvent(event)
		require.NoError(t, err)
	}

	// Wait for all events to be processed
	time.Sleep(500 * time.Millisecond)

	insertedEvents := mockRepo.GetInsertedEvents()
	assert.Equal(t, eventCount, len(insertedEvents))
}

func TestAuditService_ConcurrentLogging(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)
	config := Config{
		BufferSize:  1000,
		WorkerCount: 5,
	}

	service := NewAuditService(mockRepo, logger, config)
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	goroutineCount := 10
	eventsPerGoroutine := 10
	var wg sync.WaitGroup

	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				event := models.NewAuthEvent(models.AuthOutcomeAccepted).WithSubject("auth0.abc123")
				service.LogEvent(event)
			}
		}()
	}

	wg.Wait()

	// Wait for all events to be processed
	time.Sleep(1 * time.Second)

	insertedEvents := mockRepo.GetInsertedEvents()
	expectedCount := goroutineCount * eventsPerGoroutine
	assert.Equal(t, expectedCount, len(insertedEvents))
}

func TestAuditService_LogAccepted(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)

	service := NewAuditService(mockRepo, logger, DefaultConfig())
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	user := models.NewUser("auth0.507f1f77", "jordan@apexmotive.io", "Jordan", "Reyes")

	err = service.LogAccepted(user, "req-42", "203.0.113.7", "Mozilla/5.0")
	require.NoError(t, err)

	// Wait for processing
	time.Sleep(100 * time.Millisecond)

	insertedEvents := mockRepo.GetInsertedEvents()
	require.Equal(t, 1, len(insertedEvents))
	assert.Equal(t, models.AuthOutcomeAccepted, insertedEvents[0].Outcome)
	assert.Equal(t, "auth0.507f1f77", insertedEvents[0].Subject)
	assert.Empty(t, insertedEvents[0].Reason)
	require.NotNil(t, insertedEvents[0].UserID)
	assert.Equal(t, user.ID, *insertedEvents[0].UserID)
	assert.Equal(t, "req-42", insertedEvents[0].RequestID)
}

func TestAuditService_LogRejected(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)

	service := NewAuditService(mockRepo, logger, DefaultConfig())
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	err = service.LogRejected("auth0.507f1f77", "audience_mismatch", "req-43", "203.0.113.7", "Mozilla/5.0")
	require.NoError(t, err)

	// A token too malformed to decode still produces an event, just without
	// a subject.
	err = service.LogRejected("", "malformed", "req-44", "203.0.113.8", "curl/8.0")
	require.NoError(t, err)

	// Wait for processing
	time.Sleep(100 * time.Millisecond)

	insertedEvents := mockRepo.GetInsertedEvents()
	require.Equal(t, 2, len(insertedEvents))
	for _, event := range insertedEvents {
		assert.Equal(t, models.AuthOutcomeRejected, event.Outcome)
		assert.Nil(t, event.UserID)
	}
}

func TestAuditService_LogLockedOut(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)

	service := NewAuditService(mockRepo, logger, DefaultConfig())
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	err = service.LogLockedOut("auth0.507f1f77", "req-45", "203.0.113.7", "Mozilla/5.0")
	require.NoError(t, err)

	// Wait for processing
	time.Sleep(100 * time.Millisecond)

	insertedEvents := mockRepo.GetInsertedEvents()
	require.Equal(t, 1, len(insertedEvents))
	assert.Equal(t, models.AuthOutcomeLockedOut, insertedEvents[0].Outcome)
	assert.Equal(t, "locked_out", insertedEvents[0].Reason)
}

func TestAuditService_BufferFull(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)
	config := Config{
		BufferSize:  5,
		WorkerCount: 1,
	}

	service := NewAuditService(mockRepo, logger, config)
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	// Slow down processing
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		time.Sleep(100 * time.Millisecond)
	})

	// Fill buffer
	successCount := 0
	for i := 0; i < 20; i++ {
		event := models.NewAuthEvent(models.AuthOutcomeRejected).WithReason("expired")
		err = service.LogEvent(event)
		if err == nil {
			successCount++
		}
	}

	// Should have some failures due to buffer full
	assert.Less(t, successCount, 20)

	// Wait for processing
	time.Sleep(3 * time.Second)
}

func TestAuditService_StopTimeout(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)
	config := Config{
		BufferSize:  100,
		WorkerCount: 1,
	}

	service := NewAuditService(mockRepo, logger, config)
	err := service.Start()
	require.NoError(t, err)

	// Very slow processing
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		time.Sleep(10 * time.Second)
	})

	event := models.NewAuthEvent(models.AuthOutcomeAccepted).WithSubject("auth0.abc123")
	service.LogEvent(event)

	// Stop with short timeout
	err = service.Stop(100 * time.Millisecond)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestAuditService_CleanupOldEvents(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)
	config := Config{
		BufferSize:  10,
		WorkerCount: 1,
		Retention:   24 * time.Hour,
	}

	service := NewAuditService(mockRepo, logger, config)

	var cutoff time.Time
	mockRepo.On("DeleteOlderThan", mock.Anything, mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) {
			cutoff = args.Get(1).(time.Time)
		}).
		Return(int64(3), nil)

	err := service.CleanupOldEvents(context.Background())
	require.NoError(t, err)

	expected := time.Now().Add(-24 * time.Hour)
	assert.WithinDuration(t, expected, cutoff, time.Minute)
	mockRepo.AssertExpectations(t)
}

func TestAuditService_CleanupOldEventsError(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)

	service := NewAuditService(mockRepo, logger, DefaultConfig())

	mockRepo.On("DeleteOlderThan", mock.Anything, mock.Anything).
		Return(int64(0), errors.New("connection refused"))

	err := service.CleanupOldEvents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to clean up auth events")
}

func TestAuditService_GetStats(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockAuthEventRepository)
	config := Config{
		BufferSize:  100,
		WorkerCount: 5,
	}

	service := NewAuditService(mockRepo, logger, config)

	// Before start
	stats := service.GetStats()
	assert.False(t, stats.Started)
	assert.Equal(t, 5, stats.WorkerCount)
	assert.Equal(t, 100, stats.BufferSize)
	assert.Equal(t, 0, stats.PendingEvents)

	// After start
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	stats = service.GetStats()
	assert.True(t, stats.Started)

	// Add some events
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		time.Sleep(100 * time.Millisecond)
	})

	for i := 0; i < 10; i++ {
		event := models.NewAuthEvent(models.AuthOutcomeRejected).WithReason("expired")
		service.LogEvent(event)
	}

	// Check pending events
	stats = service.GetStats()
	assert.Greater(t, stats.PendingEvents, 0)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 4096, config.BufferSize)
	assert.Equal(t, 2, config.WorkerCount)
	assert.Equal(t, 720*time.Hour, config.Retention)
}
