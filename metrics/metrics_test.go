package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveValidation("idp", ResultValid)
	m.ObserveValidation("idp", ResultValid)
	m.ObserveCacheLookup("client_credentials", true)
	m.ObserveCacheLookup("client_credentials", false)
	m.ObserveTokenRequest("token_exchange", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokenValidations.WithLabelValues("idp", ResultValid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenCacheLookups.WithLabelValues("client_credentials", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenCacheLookups.WithLabelValues("client_credentials", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenEndpointRequests.WithLabelValues("token_exchange", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveValidation("idp", ResultInvalid)
		m.ObserveCacheLookup("x", true)
		m.ObserveTokenRequest("x", nil)
	})
}
