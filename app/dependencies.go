package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/apexmotive/dashboard-backend/auth"
	"github.com/apexmotive/dashboard-backend/auth0"
	"github.com/apexmotive/dashboard-backend/config"
	"github.com/apexmotive/dashboard-backend/middleware"
	"github.com/apexmotive/dashboard-backend/repositories"
	"github.com/apexmotive/dashboard-backend/repositories/postgres"
	"github.com/apexmotive/dashboard-backend/services"
	"github.com/apexmotive/dashboard-backend/services/audit"
	"github.com/apexmotive/dashboard-backend/services/identity"
	"github.com/apexmotive/dashboard-backend/services/lockout"
)

// cleanupInterval is how often the retention workers sweep old rows.
const cleanupInterval = time.Hour

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users      repositories.UserRepository
	AuthEvents repositories.AuthEventRepository
	TxManager  repositories.TransactionManager

	// Services
	Identity *identity.Provisioner
	Recorder *audit.AuditService
	Lockout  *lockout.LockoutService

	// Auth
	authHandler    *auth.Handler
	AuthMiddleware *middleware.AuthMiddleware

	cancelWorkers context.CancelFunc
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize repositories
	deps.initRepositories()

	// Background workers outlive any request; they stop when Close cancels
	// this context.
	workerCtx, cancel := context.WithCancel(context.Background())
	deps.cancelWorkers = cancel

	// Initialize services
	if err := deps.initServices(workerCtx, cfg); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize auth (token validation + Universal Login flow)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL database connection and factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	// Test the connection
	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := d.DB.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.AuthEvents = repos.AuthEvents
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initServices initializes the provisioner, the auth event recorder, and the
// lockout service, and starts their background workers.
func (d *Dependencies) initServices(ctx context.Context, cfg *config.Config) error {
	d.Identity = identity.NewProvisioner(d.Users, d.TxManager, d.Logger)

	d.Recorder = audit.NewAuditService(d.AuthEvents, d.Logger, audit.Config{
		BufferSize:  cfg.AuthEvents.BufferSize,
		WorkerCount: cfg.AuthEvents.WorkerCount,
		Retention:   cfg.AuthEvents.Retention,
	})
	if err := d.Recorder.Start(); err != nil {
		return fmt.Errorf("failed to start auth event recorder: %w", err)
	}
	d.Recorder.StartCleanupWorker(ctx, cleanupInterval)

	d.Lockout = lockout.NewLockoutService(d.DB, d.TxManager, lockout.Config{
		Enabled:     cfg.Lockout.Enabled,
		MaxFailures: cfg.Lockout.Threshold,
		Window:      cfg.Lockout.Window,
	}, d.Logger)
	d.Lockout.StartCleanupWorker(ctx, cleanupInterval, cfg.Lockout.Retention)

	d.Logger.Info("services initialized")
	return nil
}

// initAuth wires the token validator, the request middleware, and the
// Universal Login handler.
func (d *Dependencies) initAuth(cfg *config.Config) {
	validator := d.newTokenValidator(cfg)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Identity, d.Lockout, d.Recorder, d.Logger)

	if cfg.Auth0.Domain == "" || cfg.Auth0.ClientID == "" {
		d.Logger.Warn("auth0 login flow not configured, auth endpoints disabled")
		return
	}

	exchanger := services.NewAuth0TokenExchanger(cfg.Auth0)
	d.authHandler = auth.NewHandler(cfg, exchanger, validator, d.Logger)
	d.Logger.Info("auth handler initialized")
}

// newTokenValidator builds the configured validator. When the tenant is not
// configured the middleware gets a validator that rejects everything, so
// protected routes stay closed instead of the process refusing to start.
func (d *Dependencies) newTokenValidator(cfg *config.Config) middleware.TokenValidator {
	validator, err := auth0.NewValidator(auth0.Config{
		Domain:          cfg.Auth0.Domain,
		Audience:        cfg.Auth0.Audience,
		Mode:            auth0.Mode(cfg.Auth0.Mode),
		SymmetricSecret: cfg.Auth0.SymmetricSecret,
		HTTPTimeout:     cfg.Auth0.HTTPTimeout,
	}, d.Logger)
	if err != nil {
		d.Logger.Warn("token validator not configured, protected routes will reject all requests",
			zap.Error(err))
		return &rejectAllValidator{}
	}
	return validator
}

// rejectAllValidator rejects all tokens (used when the tenant is not configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*auth0.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.cancelWorkers != nil {
		d.cancelWorkers()
	}

	// Drain buffered auth events before the database goes away.
	if d.Recorder != nil {
		if err := d.Recorder.Stop(10 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop auth event recorder: %w", err))
		} else {
			d.Logger.Info("auth event recorder drained")
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
