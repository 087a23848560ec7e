package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Login("success")
	m.Login("success")
	m.Refresh("reuse")
	m.Revoked("Logout from all devices", 3)
	m.Revoked("User logout", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoginAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefresh.WithLabelValues("reuse")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RefreshRevoked.WithLabelValues("Logout from all devices")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RefreshRevoked), "zero revocations add no series")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Login("failure")
		m.Reset("requested")
		m.ObserveRequest("GET", "/healthz", "200", 0.1)
	})
}
