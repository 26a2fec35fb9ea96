package authhttp

import (
	"net/http"
	"time"

	"github.com/navikt/token-support-sub000/authz"
	"github.com/navikt/token-support-sub000/token"
	"github.com/navikt/token-support-sub000/validation"
)

// ValidateTokens stores the validated tokens of every request on its context.
// It never rejects a request.
func ValidateTokens(h *validation.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokens := h.GetValidatedTokens(r.Context(), validation.FromHTTPRequest(r))
			next.ServeHTTP(w, r.WithContext(token.WithValidatedTokens(r.Context(), tokens)))
		})
	}
}

// Require responds 401 when a required token is missing and 403 when claims
// do not match. Must run after ValidateTokens.
func Require(req authz.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch authz.Evaluate(req, tokensFrom(r)) {
			case authz.Allow:
				next.ServeHTTP(w, r)
			case authz.MissingToken:
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			default:
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			}
		})
	}
}

// TokenExpiry sets validation.TokenExpiryHeader when a validated token
// expires within threshold.
func TokenExpiry(threshold time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exp, ok := validation.ExpiringSoon(tokensFrom(r), threshold, time.Now()); ok {
				w.Header().Set(validation.TokenExpiryHeader, validation.ExpiryHeaderValue(exp))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokensFrom(r *http.Request) *token.ValidatedTokens {
	if t, ok := token.FromContext(r.Context()); ok {
		return t
	}
	return token.NewValidatedTokens()
}
