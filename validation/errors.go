package validation

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfiguration marks startup failures: an issuer whose metadata cannot be
// fetched or parsed, or an inconsistent trust configuration. The registry is
// never built partially.
var ErrConfiguration = errors.New("token validation configuration error")

// Causes wrapped by ValidationError.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrMissingClaim     = errors.New("missing required claim")
	ErrInvalidAudience  = errors.New("invalid audience")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
	ErrIssuedInFuture   = errors.New("token issued in the future")
)

// ValidationError reports why a token was rejected. ExpiresAt carries the
// token's exp claim when it could be read, for diagnostics.
type ValidationError struct {
	Issuer    string
	ExpiresAt *time.Time
	Err       error
}

func (e *ValidationError) Error() string {
	if e.ExpiresAt != nil {
		return fmt.Sprintf("token from issuer %q rejected (expires_at=%s): %v", e.Issuer, e.ExpiresAt.UTC().Format(time.RFC3339), e.Err)
	}
	return fmt.Sprintf("token from issuer %q rejected: %v", e.Issuer, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
