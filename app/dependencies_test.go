package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/apexmotive/dashboard-backend/auth0"
	"github.com/apexmotive/dashboard-backend/config"
	"github.com/apexmotive/dashboard-backend/repositories/postgres"
)

func TestNewDependencies(t *testing.T) {
	t.Run("successful initialization with all components", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig()
		logger := zaptest.NewLogger(t)

		// Skip if database not available
		if !isDatabaseAvailable(cfg) {
			t.Skip("database not available")
		}

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		// Verify infrastructure
		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.DB)
		assert.NotNil(t, deps.Logger)

		// Verify repositories
		assert.NotNil(t, deps.Users)
		assert.NotNil(t, deps.AuthEvents)
		assert.NotNil(t, deps.TxManager)

		// Verify services
		assert.NotNil(t, deps.Identity)
		assert.NotNil(t, deps.Recorder)
		assert.NotNil(t, deps.Lockout)
		assert.True(t, deps.Recorder.GetStats().Started)

		// Verify auth wiring
		assert.NotNil(t, deps.AuthMiddleware)
		assert.NotNil(t, deps.AuthHandler())

		// Cleanup
		err = deps.Close(ctx)
		assert.NoError(t, err)
	})

	t.Run("database connection failure", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig()
		cfg.Database.Host = "invalid-host-that-does-not-exist"
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize database")
	})
}

func TestDependenciesClose(t *testing.T) {
	t.Run("graceful shutdown", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig()
		logger := zaptest.NewLogger(t)

		// Skip if database not available
		if !isDatabaseAvailable(cfg) {
			t.Skip("database not available")
		}

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		err = deps.Close(ctx)
		assert.NoError(t, err)
	})
}

func TestNewTokenValidator(t *testing.T) {
	d := &Dependencies{Logger: zap.NewNop()}

	t.Run("configured tenant yields a real validator", func(t *testing.T) {
		cfg := testConfig()

		validator := d.newTokenValidator(cfg)

		_, ok := validator.(*auth0.Validator)
		assert.True(t, ok)
	})

	t.Run("symmetric mode yields a real validator", func(t *testing.T) {
		cfg := testConfig()
		cfg.Auth0.Mode = config.AuthModeSymmetric
		cfg.Auth0.SymmetricSecret = "test-secret"

		validator := d.newTokenValidator(cfg)

		_, ok := validator.(*auth0.Validator)
		assert.True(t, ok)
	})

	t.Run("missing tenant falls back to rejecting everything", func(t *testing.T) {
		cfg := testConfig()
		cfg.Auth0.Domain = ""

		validator := d.newTokenValidator(cfg)

		_, ok := validator.(*rejectAllValidator)
		require.True(t, ok)

		claims, err := validator.ValidateToken(context.Background(), "any-token")
		assert.Error(t, err)
		assert.Nil(t, claims)
	})
}

// Test helpers

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: config.DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "dashboard",
			Password:        "dashboard_password",
			Database:        "dashboard_test",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth0: config.Auth0Config{
			Domain:      "apexmotive-test.us.auth0.com",
			Audience:    "https://dashboard.apexmotive.io/api",
			ClientID:    "test-client",
			RedirectURI: "http://localhost:8080/auth/callback",
			Mode:        config.AuthModeJWKS,
			HTTPTimeout: 10 * time.Second,
		},
		Lockout: config.LockoutConfig{
			Enabled:   true,
			Threshold: 10,
			Window:    15 * time.Minute,
			Retention: 24 * time.Hour,
		},
		AuthEvents: config.AuthEventsConfig{
			BufferSize:  64,
			WorkerCount: 1,
			Retention:   24 * time.Hour,
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

func isDatabaseAvailable(cfg *config.Config) bool {
	logger := zap.NewNop()
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return false
	}
	defer factory.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return factory.GetDB().PingContext(ctx) == nil
}
