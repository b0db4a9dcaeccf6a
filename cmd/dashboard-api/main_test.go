package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apexmotive/dashboard-backend/app"
	"github.com/apexmotive/dashboard-backend/auth0"
	"github.com/apexmotive/dashboard-backend/config"
	"github.com/apexmotive/dashboard-backend/middleware"
	"github.com/apexmotive/dashboard-backend/models"
	"github.com/apexmotive/dashboard-backend/routes"
	"github.com/apexmotive/dashboard-backend/services/lockout"
)

// rejectAllValidator rejects every token, so protected routes answer 401.
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*auth0.Claims, error) {
	return nil, auth0.ErrBadSignature
}

// noopLimiter never locks anyone out and never fails.
type noopLimiter struct{}

func (*noopLimiter) CheckLocked(context.Context, string, string) (*lockout.LockoutStatus, error) {
	return &lockout.LockoutStatus{}, nil
}

func (*noopLimiter) RecordFailure(context.Context, string, string) (*lockout.LockoutStatus, error) {
	return &lockout.LockoutStatus{}, nil
}

func (*noopLimiter) ClearFailures(context.Context, string, string) error { return nil }

// noopRecorder drops auth events.
type noopRecorder struct{}

func (*noopRecorder) LogAccepted(*models.User, string, string, string) error { return nil }

func (*noopRecorder) LogRejected(string, string, string, string, string) error { return nil }

func (*noopRecorder) LogLockedOut(string, string, string, string) error { return nil }

func TestMain(m *testing.M) {
	os.Setenv("ENVIRONMENT", "test")

	code := m.Run()

	os.Exit(code)
}

func TestApplicationStartup(t *testing.T) {
	t.Run("routes serve with minimal dependencies", func(t *testing.T) {
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		// No database, no auth handler; only the public surface is exercised.
		deps := &app.Dependencies{
			Config: cfg,
			Logger: logger,
		}

		handler := routes.SetupRoutes(deps)
		require.NotNil(t, handler)

		ts := httptest.NewServer(handler)
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&body)
		require.NoError(t, err)

		data := body["data"].(map[string]interface{})
		assert.Equal(t, "healthy", data["status"])
	})
}

func TestHealthEndpoints(t *testing.T) {
	cfg := testConfig(t)
	logger := zaptest.NewLogger(t)

	deps := &app.Dependencies{
		Config: cfg,
		Logger: logger,
	}

	handler := routes.SetupRoutes(deps)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	t.Run("health check returns healthy", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var body map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&body)
		require.NoError(t, err)

		data := body["data"].(map[string]interface{})
		assert.Equal(t, "healthy", data["status"])
		assert.NotEmpty(t, data["timestamp"])
	})

	t.Run("readiness without a configured database", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/readyz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&body)
		require.NoError(t, err)

		data := body["data"].(map[string]interface{})
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["database"])
	})

	t.Run("metrics endpoint is public", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestAPIEndpoints(t *testing.T) {
	cfg := testConfig(t)
	logger := zaptest.NewLogger(t)

	deps := &app.Dependencies{
		Config: cfg,
		Logger: logger,
		// The resolver is nil: the validator rejects before it is reached.
		AuthMiddleware: middleware.NewAuthMiddleware(&rejectAllValidator{}, nil, &noopLimiter{}, &noopRecorder{}, logger),
	}

	handler := routes.SetupRoutes(deps)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	testCases := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"get current user unauthenticated", "GET", "/api/v1/users/me", http.StatusUnauthorized},
		{"list auth events unauthenticated", "GET", "/api/v1/admin/auth-events", http.StatusUnauthorized},
		{"login without a configured tenant", "GET", "/auth/login", http.StatusInternalServerError},
		{"not found", "GET", "/api/v1/nonexistent", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, ts.URL+tc.path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "endpoint: %s %s", tc.method, tc.path)
		})
	}

	t.Run("unauthenticated body is the uniform rejection", func(t *testing.T) {
		req, err := http.NewRequest("GET", ts.URL+"/api/v1/users/me", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer not-a-real-token")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&body)
		require.NoError(t, err)
		assert.Equal(t, "unauthorized", body["error"])
		assert.Equal(t, "Authentication required", body["message"])
	})

	t.Run("unknown route returns a json 404", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/nope")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		var body map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&body)
		require.NoError(t, err)
		assert.Equal(t, "endpoint not found", body["error"])
	})
}

func TestCORSMiddleware(t *testing.T) {
	cfg := testConfig(t)
	logger := zaptest.NewLogger(t)

	deps := &app.Dependencies{
		Config: cfg,
		Logger: logger,
	}

	handler := routes.SetupRoutes(deps)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	t.Run("OPTIONS preflight request", func(t *testing.T) {
		req, err := http.NewRequest("OPTIONS", ts.URL+"/api/v1/users/me", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "GET")
		req.Header.Set("Access-Control-Request-Headers", "Authorization")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed origin gets no CORS headers", func(t *testing.T) {
		req, err := http.NewRequest("OPTIONS", ts.URL+"/api/v1/users/me", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://evil.example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestIntegrationWithRealDependencies(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	cfg := testConfig(t)
	logger := zaptest.NewLogger(t)

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		t.Skipf("skipping integration test: %v", err)
		return
	}
	defer deps.Close(ctx)

	handler := routes.SetupRoutes(deps)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	t.Run("readiness check with real infrastructure", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/readyz")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&body)
		require.NoError(t, err)

		t.Logf("readiness response: %+v", body)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "healthy", data["status"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["database"])
	})
}

// Test helpers

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: config.DatabaseConfig{
			Host:            getEnvOrDefault("DB_HOST", "localhost"),
			Port:            5432,
			User:            getEnvOrDefault("DB_USER", "dashboard"),
			Password:        getEnvOrDefault("DB_PASSWORD", "dashboard_password"),
			Database:        getEnvOrDefault("DB_NAME", "dashboard_test"),
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth0: config.Auth0Config{
			Domain:      "apexmotive-test.us.auth0.com",
			Audience:    "https://dashboard.apexmotive.io/api",
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

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
