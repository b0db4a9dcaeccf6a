package auth0

import "errors"

var (
	// ErrMalformedToken is returned when the token cannot be decoded at all
	ErrMalformedToken = errors.New("malformed token")

	// ErrKeyNotFound is returned when no signing key matches the token's kid
	// after one key set refresh
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrKeySetUnavailable is returned when the key set endpoint cannot be
	// fetched and no usable cached key exists
	ErrKeySetUnavailable = errors.New("key set unavailable")

	// ErrBadSignature is returned when signature verification fails
	ErrBadSignature = errors.New("invalid token signature")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrAudienceMismatch is returned when the token audience is invalid
	ErrAudienceMismatch = errors.New("invalid audience")

	// ErrIssuerMismatch is returned when the token issuer is invalid
	ErrIssuerMismatch = errors.New("invalid issuer")
)

// RejectionReason maps a validation error to the reason tag used in logs,
// metrics labels, and recorded authentication events. Unknown errors map to
// "invalid_token".
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrKeyNotFound):
		return "unknown_key"
	case errors.Is(err, ErrKeySetUnavailable):
		return "keyset_unavailable"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch"
	default:
		return "invalid_token"
	}
}
