package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Authentication modes. JWKS is the production mode: signatures are checked
// against the tenant's published key set. Symmetric is for test environments
// only: a pre-shared HS256 secret replaces the key set.
const (
	AuthModeJWKS      = "jwks"
	AuthModeSymmetric = "symmetric"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Auth0       Auth0Config
	Lockout     LockoutConfig
	AuthEvents  AuthEventsConfig
	CORS        CORSConfig
	Environment string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// Auth0Config holds Auth0 authentication configuration
type Auth0Config struct {
	Domain          string // Tenant domain (e.g., apexmotive.us.auth0.com); issuer is https://{domain}/
	Audience        string // API identifier expected in the aud claim
	ClientID        string
	ClientSecret    string
	RedirectURI     string // OAuth2 callback URL
	FrontendURL     string // Post-login redirect target
	Mode            string // jwks or symmetric
	SymmetricSecret string // HS256 secret, symmetric mode only
	HTTPTimeout     time.Duration
}

// LockoutConfig holds failed-attempt lockout configuration
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
	Retention time.Duration
}

// AuthEventsConfig holds auth event recorder configuration
type AuthEventsConfig struct {
	BufferSize  int
	WorkerCount int
	Retention   time.Duration
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Auth0: Auth0Config{
			Domain:          getEnv("AUTH0_DOMAIN", ""),
			Audience:        getEnv("AUTH0_AUDIENCE", ""),
			ClientID:        getEnv("AUTH0_CLIENT_ID", ""),
			ClientSecret:    getEnv("AUTH0_CLIENT_SECRET", ""),
			RedirectURI:     getEnv("AUTH0_REDIRECT_URI", "http://localhost:8080/auth/callback"),
			FrontendURL:     getEnv("AUTH0_FRONTEND_URL", "http://localhost:3000"),
			Mode:            getEnv("AUTH_MODE", AuthModeJWKS),
			SymmetricSecret: getEnv("AUTH_SYMMETRIC_SECRET", ""),
			HTTPTimeout:     getEnvAsDuration("AUTH_HTTP_TIMEOUT", 10*time.Second),
		},
		Lockout: LockoutConfig{
			Enabled:   getEnvAsBool("LOCKOUT_ENABLED", true),
			Threshold: getEnvAsInt("LOCKOUT_THRESHOLD", 10),
			Window:    getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			Retention: getEnvAsDuration("LOCKOUT_RETENTION", 24*time.Hour),
		},
		AuthEvents: AuthEventsConfig{
			BufferSize:  getEnvAsInt("AUTH_EVENT_BUFFER", 4096),
			WorkerCount: getEnvAsInt("AUTH_EVENT_WORKERS", 2),
			Retention:   getEnvAsDuration("AUTH_EVENT_RETENTION", 720*time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	switch c.Auth0.Mode {
	case AuthModeJWKS, AuthModeSymmetric:
	default:
		return fmt.Errorf("invalid AUTH_MODE %q: must be %q or %q", c.Auth0.Mode, AuthModeJWKS, AuthModeSymmetric)
	}

	// Symmetric mode is a test-environment convenience; it never ships.
	if c.Auth0.Mode == AuthModeSymmetric {
		if c.IsProduction() {
			return fmt.Errorf("symmetric auth mode is not allowed in production")
		}
		if c.Auth0.SymmetricSecret == "" {
			return fmt.Errorf("AUTH_SYMMETRIC_SECRET is required in symmetric auth mode")
		}
	}

	// Auth0 validation (required in production)
	if c.IsProduction() {
		if c.Auth0.Domain == "" {
			return fmt.Errorf("auth0 domain is required in production")
		}
		if c.Auth0.Audience == "" {
			return fmt.Errorf("auth0 audience is required in production")
		}
	}

	if c.Lockout.Enabled && c.Lockout.Threshold <= 0 {
		return fmt.Errorf("lockout threshold must be positive")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dashboard"),
		Password:        getEnv("DB_PASSWORD", "dashboard_password"),
		Database:        getEnv("DB_NAME", "dashboard"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Issuer returns the expected token issuer for the configured tenant
func (c *Auth0Config) Issuer() string {
	domain := strings.TrimSuffix(c.Domain, "/")
	return fmt.Sprintf("https://%s/", domain)
}

// TokenURL returns the tenant's OAuth2 token endpoint
func (c *Auth0Config) TokenURL() string {
	domain := strings.TrimSuffix(c.Domain, "/")
	return fmt.Sprintf("https://%s/oauth/token", domain)
}

// AuthorizeURL returns the tenant's authorization endpoint
func (c *Auth0Config) AuthorizeURL() string {
	domain := strings.TrimSuffix(c.Domain, "/")
	return fmt.Sprintf("https://%s/authorize", domain)
}

// LogoutURL returns the tenant's logout endpoint
func (c *Auth0Config) LogoutURL() string {
	domain := strings.TrimSuffix(c.Domain, "/")
	return fmt.Sprintf("https://%s/v2/logout", domain)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
