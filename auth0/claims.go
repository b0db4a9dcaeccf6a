package auth0

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingClaim is returned when a required claim is missing
var ErrMissingClaim = errors.New("missing required claim")

// Claims represents the claims carried by an Auth0-issued token. Profile
// fields come from the OIDC standard claims; the subject keeps Auth0's
// namespaced form (e.g. "auth0|abc123") until normalized for storage.
type Claims struct {
	jwt.RegisteredClaims
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// NormalizedSubject returns the storage-safe identifier for the token
// subject: every "|" in the namespaced subject becomes a ".".
func (c *Claims) NormalizedSubject() string {
	return NormalizeSubject(c.Subject)
}

// NormalizeSubject converts a namespaced subject identifier
// ("provider|12345") into its storage-safe form ("provider.12345").
// The mapping is stable: the same raw subject always yields the same
// normalized identifier.
func NormalizeSubject(subject string) string {
	return strings.ReplaceAll(subject, "|", ".")
}

// DecodeSubject extracts the subject from a token without verifying the
// signature. Used where an unverified identity hint is acceptable, such as
// keying failed-attempt counters before validation runs.
func DecodeSubject(tokenString string) (string, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &Claims{}
	_, _, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return claims.Subject, nil
}
