package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/apexmotive/dashboard-backend/auth0"
	"github.com/apexmotive/dashboard-backend/internal/observability"
	"github.com/apexmotive/dashboard-backend/models"
	"github.com/apexmotive/dashboard-backend/services/lockout"
	"github.com/apexmotive/dashboard-backend/utils"
)

// TokenValidator defines the interface for validating JWT tokens
type TokenValidator interface {
	// ValidateToken validates a JWT token and returns claims
	ValidateToken(ctx context.Context, token string) (*auth0.Claims, error)
}

// IdentityResolver maps validated claims to the local user record
type IdentityResolver interface {
	Resolve(ctx context.Context, claims *auth0.Claims) (*models.User, error)
}

// AttemptLimiter tracks failed attempts and locks repeat offenders out
type AttemptLimiter interface {
	CheckLocked(ctx context.Context, subject, remoteAddr string) (*lockout.LockoutStatus, error)
	RecordFailure(ctx context.Context, subject, remoteAddr string) (*lockout.LockoutStatus, error)
	ClearFailures(ctx context.Context, subject, remoteAddr string) error
}

// EventRecorder records authentication outcomes out of band
type EventRecorder interface {
	LogAccepted(user *models.User, requestID, ipAddress, userAgent string) error
	LogRejected(subject, reason, requestID, ipAddress, userAgent string) error
	LogLockedOut(subject, requestID, ipAddress, userAgent string) error
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator  TokenValidator
	identities IdentityResolver
	limiter    AttemptLimiter
	recorder   EventRecorder
	logger     *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, identities IdentityResolver, limiter AttemptLimiter, recorder EventRecorder, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator:  validator,
		identities: identities,
		limiter:    limiter,
		recorder:   recorder,
		logger:     logger,
	}
}

// authTokenCookieName is the cookie name for JWT tokens (Authorization header takes precedence)
// sessionCookieName is set by the auth handler after the OAuth callback
const authTokenCookieName = "auth_token"
const sessionCookieName = "session"

// RequireAuth authenticates the request: extract token, check lockout,
// validate, provision the identity. Every failure produces the same
// 401 response; the specific reason goes to logs, metrics, and the auth
// event record only.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := chimiddleware.GetReqID(ctx)
		remoteAddr := clientAddr(r)
		userAgent := r.UserAgent()

		// Extract token from cookie ("auth_token"/"session") or Authorization header ("Bearer TOKEN")
		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			observability.RecordAuthRequest("rejected", "missing_token")
			_ = m.recorder.LogRejected("", "missing_token", requestID, remoteAddr, userAgent)
			_ = utils.WriteUnauthorized(w, "")
			return
		}

		// Unverified subject hint: keys the lockout counter and the event
		// record even when validation is about to fail.
		subjectHint := ""
		if rawSubject, err := auth0.DecodeSubject(token); err == nil {
			subjectHint = auth0.NormalizeSubject(rawSubject)
		}

		// Lockout runs before any signature work
		status, err := m.limiter.CheckLocked(ctx, subjectHint, remoteAddr)
		if err != nil {
			// The limiter is a hardening layer; its storage being down must
			// not take authentication down with it.
			m.logger.Error("lockout check failed",
				zap.String("request_id", requestID),
				zap.Error(err))
		} else if status.Locked {
			m.logger.Warn("request rejected by lockout",
				zap.String("request_id", requestID),
				zap.String("subject", subjectHint),
				zap.Time("retry_at", status.RetryAt))
			observability.RecordAuthRequest("locked_out", "locked_out")
			_ = m.recorder.LogLockedOut(subjectHint, requestID, remoteAddr, userAgent)
			_ = utils.WriteUnauthorized(w, "")
			return
		}

		// Validate token
		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			reason := auth0.RejectionReason(err)
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.String("reason", reason),
				zap.Error(err))
			observability.RecordAuthRequest("rejected", reason)
			_ = m.recorder.LogRejected(subjectHint, reason, requestID, remoteAddr, userAgent)
			if _, recordErr := m.limiter.RecordFailure(ctx, subjectHint, remoteAddr); recordErr != nil {
				m.logger.Error("failed to record auth failure",
					zap.String("request_id", requestID),
					zap.Error(recordErr))
			}
			_ = utils.WriteUnauthorized(w, "")
			return
		}

		// Resolve the local identity. A provisioning failure is not the
		// client's fault, so it never counts toward the lockout.
		user, err := m.identities.Resolve(ctx, claims)
		if err != nil {
			m.logger.Error("identity provisioning failed",
				zap.String("request_id", requestID),
				zap.String("subject", claims.NormalizedSubject()),
				zap.Error(err))
			observability.RecordAuthRequest("rejected", "provisioning_failed")
			_ = m.recorder.LogRejected(claims.NormalizedSubject(), "provisioning_failed", requestID, remoteAddr, userAgent)
			_ = utils.WriteUnauthorized(w, "")
			return
		}

		observability.RecordAuthRequest("accepted", "none")

		if err := m.limiter.ClearFailures(ctx, user.Subject, remoteAddr); err != nil {
			m.logger.Error("failed to clear auth failures",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
		_ = m.recorder.LogAccepted(user, requestID, remoteAddr, userAgent)

		ctx = WithClaims(ctx, claims)
		ctx = WithUser(ctx, user)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("subject", user.Subject),
			zap.String("user_id", user.ID.String()))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireStaff gates a route on the persisted staff flag. The flag comes
// from the user record, never from token claims; it must run after
// RequireAuth.
func (m *AuthMiddleware) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := chimiddleware.GetReqID(ctx)

		user := GetUserFromContext(ctx)
		if user == nil {
			m.logger.Error("user not found in context",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "")
			return
		}

		if !user.IsStaff {
			m.logger.Warn("staff access denied",
				zap.String("request_id", requestID),
				zap.String("subject", user.Subject))
			_ = utils.WriteForbidden(w, "Staff access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken extracts the JWT from the Authorization header ("Bearer TOKEN")
// or a cookie. The header takes precedence when both are present.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	// Fall back to auth_token or session cookie (session is set by the OAuth callback)
	for _, name := range []string{authTokenCookieName, sessionCookieName} {
		if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// clientAddr returns the client IP without the port. RealIP middleware
// rewrites RemoteAddr to a bare IP when forwarding headers are present.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
