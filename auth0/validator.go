package auth0

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/apexmotive/dashboard-backend/internal/observability"
)

// Mode selects how token signatures are verified.
type Mode string

const (
	// ModeJWKS verifies RS256 signatures against the tenant's published key
	// set. This is the production mode.
	ModeJWKS Mode = "jwks"

	// ModeSymmetric verifies HS256 signatures with a pre-shared secret.
	// Test and non-production deployments only; both modes yield the same
	// claim shape.
	ModeSymmetric Mode = "symmetric"
)

// Config holds configuration for the Validator
type Config struct {
	// Domain is the Auth0 tenant domain, e.g. "example.us.auth0.com".
	// The expected issuer is https://{domain}/ and the key set endpoint is
	// https://{domain}/.well-known/jwks.json.
	Domain string

	// Audience is the expected audience (the API identifier)
	Audience string

	// Mode defaults to ModeJWKS
	Mode Mode

	// SymmetricSecret is the pre-shared HS256 secret, required in ModeSymmetric
	SymmetricSecret string

	// CacheTTL and HTTPTimeout configure the key set cache
	CacheTTL    time.Duration
	HTTPTimeout time.Duration
}

// Validator decodes, verifies, and normalizes bearer tokens into claims.
// A validation attempt either succeeds once or fails once with a specific
// rejection reason; nothing is retried beyond the key set cache's single
// coalesced refresh.
type Validator struct {
	issuer   string
	audience string
	mode     Mode
	secret   []byte
	keys     *KeySetCache
	logger   *zap.Logger
}

// NewValidator creates a token validator for the given tenant.
func NewValidator(config Config, logger *zap.Logger) (*Validator, error) {
	if config.Mode == "" {
		config.Mode = ModeJWKS
	}
	if config.Domain == "" {
		return nil, errors.New("tenant domain is required")
	}
	if config.Audience == "" {
		return nil, errors.New("audience is required")
	}

	issuer := issuerFromDomain(config.Domain)

	v := &Validator{
		issuer:   issuer,
		audience: config.Audience,
		mode:     config.Mode,
		logger:   logger,
	}

	switch config.Mode {
	case ModeJWKS:
		v.keys = NewKeySetCache(KeySetConfig{
			URL:         issuer + ".well-known/jwks.json",
			CacheTTL:    config.CacheTTL,
			HTTPTimeout: config.HTTPTimeout,
		}, logger)
	case ModeSymmetric:
		if config.SymmetricSecret == "" {
			return nil, errors.New("symmetric secret is required in symmetric mode")
		}
		v.secret = []byte(config.SymmetricSecret)
	default:
		return nil, fmt.Errorf("unknown verification mode: %s", config.Mode)
	}

	return v, nil
}

// ValidateToken validates a bearer token and returns its claims. Latency and
// outcome (with the rejection reason on failure) are recorded for every
// attempt.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	start := time.Now()

	claims, err := v.validate(ctx, tokenString)

	duration := time.Since(start)
	if err != nil {
		observability.RecordTokenValidation("rejected", RejectionReason(err), duration)
		return nil, err
	}
	observability.RecordTokenValidation("accepted", "none", duration)

	return claims, nil
}

func (v *Validator) validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc(ctx),
		jwt.WithValidMethods(v.validMethods()),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, v.classifyError(err)
	}

	if !token.Valid {
		return nil, ErrBadSignature
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: no sub claim", ErrMalformedToken)
	}

	return claims, nil
}

// keyFunc resolves the verification key for a parsed but unverified token.
func (v *Validator) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if v.mode == ModeSymmetric {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.secret, nil
		}

		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: no kid header", ErrKeyNotFound)
		}

		return v.keys.Key(ctx, kid)
	}
}

func (v *Validator) validMethods() []string {
	if v.mode == ModeSymmetric {
		return []string{"HS256"}
	}
	return []string{"RS256"}
}

// classifyError maps golang-jwt parse errors onto the rejection taxonomy.
// Expiry wins over other claim failures so an expired token is always
// reported as expired.
func (v *Validator) classifyError(err error) error {
	switch {
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrKeySetUnavailable):
		// already classified by the key set cache
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrAudienceMismatch
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuerMismatch
	default:
		return fmt.Errorf("invalid token: %w", err)
	}
}

// issuerFromDomain builds the expected issuer URL from a tenant domain.
// Auth0 issuers always carry a trailing slash.
func issuerFromDomain(domain string) string {
	d := strings.TrimPrefix(domain, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimSuffix(d, "/")
	return "https://" + d + "/"
}
