package validation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navikt/token-support-sub000/metrics"
	"github.com/navikt/token-support-sub000/token"
)

// TokenExpiryHeader is set on responses by adapters when a validated token is
// about to expire. The value is the expiry in Unix milliseconds.
const TokenExpiryHeader = "x-token-expiry"

// Handler turns inbound requests into validated token sets.
type Handler struct {
	registry *Registry
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

// NewHandler builds a Handler sharing the registry's logger and metrics.
func NewHandler(reg *Registry) *Handler {
	return &Handler{registry: reg, log: reg.logger(), metrics: reg.metrics}
}

// Registry returns the registry the handler validates against.
func (h *Handler) Registry() *Registry { return h.registry }

// GetValidatedTokens extracts, routes and verifies every token on req. Tokens
// that fail are dropped and logged; the result holds at most one token per
// issuer short name, the first valid one in extraction order.
func (h *Handler) GetValidatedTokens(ctx context.Context, req Request) *token.ValidatedTokens {
	var verified []*token.JWT
	seen := make(map[string]struct{})

	for _, raw := range ExtractTokens(req, h.registry) {
		iss, ok := h.registry.ByIssuer(raw.Issuer)
		if !ok {
			h.log.WithField("issuer", raw.Issuer).Info("trusted issuer not configured, dropping token")
			h.metrics.ObserveValidation("", metrics.ResultUnknownIssuer)
			continue
		}

		verifiedToken, err := iss.Validator.Verify(ctx, raw.Encoded)
		if err != nil {
			entry := h.log.WithError(err).WithField("issuer", iss.Name)
			var ve *ValidationError
			if errors.As(err, &ve) && ve.ExpiresAt != nil {
				entry = entry.WithField("expires_at", ve.ExpiresAt.UTC().Format(time.RFC3339))
			}
			entry.Info("token validation failed, dropping token")
			h.metrics.ObserveValidation(iss.Name, metrics.ResultInvalid)
			continue
		}

		if _, dup := seen[iss.Name]; dup {
			h.log.WithField("issuer", iss.Name).Warn("more than one valid token for issuer, keeping the first")
			h.metrics.ObserveValidation(iss.Name, metrics.ResultDuplicate)
			continue
		}
		seen[iss.Name] = struct{}{}
		verified = append(verified, verifiedToken)
		h.metrics.ObserveValidation(iss.Name, metrics.ResultValid)
	}
	return token.NewValidatedTokens(verified...)
}

// ExpiringSoon returns the earliest expiry among tokens that expire within d
// of now.
func ExpiringSoon(tokens *token.ValidatedTokens, d time.Duration, now time.Time) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, t := range tokens.All() {
		if !t.ExpiresWithin(d, now) {
			continue
		}
		exp, _ := t.ExpiresAt()
		if !found || exp.Before(earliest) {
			earliest, found = exp, true
		}
	}
	return earliest, found
}

// ExpiryHeaderValue formats an expiry for TokenExpiryHeader.
func ExpiryHeaderValue(exp time.Time) string {
	return strconv.FormatInt(exp.UnixMilli(), 10)
}
