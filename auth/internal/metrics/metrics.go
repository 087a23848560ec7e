package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the auth service collectors. A nil *Metrics records nothing.
type Metrics struct {
	LoginAttempts   *prometheus.CounterVec
	TokenRefresh    *prometheus.CounterVec
	RefreshRevoked  *prometheus.CounterVec
	PasswordReset   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"status"}),
		TokenRefresh: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_token_refresh_total",
			Help: "Refresh token rotations by outcome.",
		}, []string{"status"}),
		RefreshRevoked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refresh_tokens_revoked_total",
			Help: "Refresh tokens revoked, by reason.",
		}, []string{"reason"}),
		PasswordReset: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_password_reset_total",
			Help: "Password reset requests and confirmations.",
		}, []string{"stage"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auth_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) Login(status string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(status).Inc()
}

func (m *Metrics) Refresh(status string) {
	if m == nil {
		return
	}
	m.TokenRefresh.WithLabelValues(status).Inc()
}

func (m *Metrics) Revoked(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RefreshRevoked.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) Reset(stage string) {
	if m == nil {
		return
	}
	m.PasswordReset.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}
