// Package metrics exposes Prometheus counters for token validation and
// outbound token acquisition. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tokensupport"

// Validation results.
const (
	ResultValid         = "valid"
	ResultInvalid       = "invalid"
	ResultUnknownIssuer = "unknown_issuer"
	ResultDuplicate     = "duplicate"
)

// Metrics bundles the collectors used across the module.
type Metrics struct {
	TokenValidations      *prometheus.CounterVec
	TokenCacheLookups     *prometheus.CounterVec
	TokenEndpointRequests *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Inbound token validations by issuer short name and result.",
		}, []string{"issuer", "result"}),
		TokenCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_token_cache_lookups_total",
			Help:      "Access token cache lookups by grant type and result.",
		}, []string{"grant_type", "result"}),
		TokenEndpointRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_endpoint_requests_total",
			Help:      "Token endpoint calls by grant type and outcome.",
		}, []string{"grant_type", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.TokenValidations, m.TokenCacheLookups, m.TokenEndpointRequests)
	}
	return m
}

func (m *Metrics) ObserveValidation(issuer, result string) {
	if m == nil {
		return
	}
	m.TokenValidations.WithLabelValues(issuer, result).Inc()
}

func (m *Metrics) ObserveCacheLookup(grantType string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TokenCacheLookups.WithLabelValues(grantType, result).Inc()
}

func (m *Metrics) ObserveTokenRequest(grantType string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.TokenEndpointRequests.WithLabelValues(grantType, outcome).Inc()
}
