package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/apexmotive/dashboard-backend/auth0"
	"github.com/apexmotive/dashboard-backend/internal/observability"
	"github.com/apexmotive/dashboard-backend/models"
	"github.com/apexmotive/dashboard-backend/repositories"
	"github.com/apexmotive/dashboard-backend/services"
)

// Provisioner resolves validated token claims to a local user record. The
// record is created on first sight and its profile fields are kept current
// with the claims on later logins. Authorization flags (is_staff,
// is_superuser) belong to operators and are never written here.
type Provisioner struct {
	users     repositories.UserRepository
	txManager repositories.TransactionManager
	logger    *zap.Logger
}

// NewProvisioner creates a new Provisioner instance
func NewProvisioner(users repositories.UserRepository, txManager repositories.TransactionManager, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		users:     users,
		txManager: txManager,
		logger:    logger,
	}
}

// Resolve maps validated claims to the local user record. Every error is
// returned as a provisioning failure; callers treat it as an authentication
// failure, never as a partially authenticated state.
func (p *Provisioner) Resolve(ctx context.Context, claims *auth0.Claims) (*models.User, error) {
	if claims == nil || claims.Subject == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "claims missing subject", nil)
	}

	subject := claims.NormalizedSubject()

	user, err := p.users.GetBySubject(ctx, subject)
	switch {
	case err == nil:
		if user.ProfileMatches(claims.Email, claims.GivenName, claims.FamilyName) {
			observability.RecordIdentityProvisioned("unchanged")
			return user, nil
		}

		updated, refreshErr := p.refreshProfile(ctx, subject, claims)
		if refreshErr != nil {
			observability.RecordIdentityProvisioned("failed")
			p.logger.Error("profile refresh failed",
				zap.String("subject", subject),
				zap.Error(refreshErr))
			return nil, services.NewDomainError(services.ErrorTypeInternal, "identity provisioning failed", refreshErr)
		}
		observability.RecordIdentityProvisioned("updated")
		return updated, nil

	case errors.Is(err, sql.ErrNoRows):
		// First login. The upsert makes racing first logins converge on a
		// single row: one insert wins, the rest take the conflict branch
		// and read back the same record.
		persisted, upsertErr := p.users.Upsert(ctx, models.NewUser(subject, claims.Email, claims.GivenName, claims.FamilyName))
		if upsertErr != nil {
			observability.RecordIdentityProvisioned("failed")
			p.logger.Error("user creation failed",
				zap.String("subject", subject),
				zap.Error(upsertErr))
			return nil, services.NewDomainError(services.ErrorTypeInternal, "identity provisioning failed", upsertErr)
		}

		observability.RecordIdentityProvisioned("created")
		p.logger.Info("user provisioned",
			zap.String("id", persisted.ID.String()),
			zap.String("subject", subject))
		return persisted, nil

	default:
		observability.RecordIdentityProvisioned("failed")
		return nil, services.NewDomainError(services.ErrorTypeInternal, "identity provisioning failed", err)
	}
}

// refreshProfile re-reads the row inside a transaction and rewrites only the
// profile columns, so concurrent refreshes cannot interleave and operator
// flags are never touched.
func (p *Provisioner) refreshProfile(ctx context.Context, subject string, claims *auth0.Claims) (*models.User, error) {
	return services.WithTransactionResult(ctx, p.txManager, func(txCtx context.Context, tx repositories.Transaction) (*models.User, error) {
		users := p.users.WithTx(tx)

		current, err := users.GetBySubject(txCtx, subject)
		if err != nil {
			return nil, err
		}

		current.Email = claims.Email
		current.FirstName = claims.GivenName
		current.LastName = claims.FamilyName
		current.UpdatedAt = time.Now()

		if err := users.UpdateProfile(txCtx, current); err != nil {
			return nil, err
		}
		return current, nil
	})
}
