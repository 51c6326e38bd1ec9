package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsLabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.ObserveRequest("POST", "/api/v1/payments/split", 201, 15*time.Millisecond)
	m.ObserveRequest("POST", "/api/v1/payments/split", 201, 5*time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	count, err := fetchCounterValue(mfs, "donorledger_http_requests_total", "route", "/api/v1/payments/split")
	require.NoError(t, err)
	assert.Equal(t, float64(2), count)

	unknown, err := fetchCounterValue(mfs, "donorledger_http_requests_total", "route", "unknown")
	require.NoError(t, err)
	assert.Equal(t, float64(1), unknown)

	sum, err := fetchHistogramSum(mfs, "donorledger_http_request_duration_seconds", "route", "/api/v1/payments/split")
	require.NoError(t, err)
	assert.Greater(t, sum, float64(0))
}

func TestHTTPMetricsNilSafe(t *testing.T) {
	var m *HTTPMetrics
	m.ObserveRequest("GET", "/health/live", 200, time.Millisecond)
	NewHTTPMetrics(nil).ObserveRequest("GET", "/health/live", 200, time.Millisecond)
}
