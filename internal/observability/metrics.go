package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	securityEvents  *prometheus.CounterVec
	mfaOutcomes     *prometheus.CounterVec
	keyFetches      *prometheus.CounterVec
	logins          *prometheus.CounterVec
	auditRecords    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualauth_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dualauth_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualauth_http_errors_total",
			Help: "HTTP error responses by error code.",
		}, []string{"path", "method", "code"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualauth_token_verifications_total",
			Help: "Bearer token verifications by expected domain and result.",
		}, []string{"domain", "result"}),
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualauth_security_events_total",
			Help: "Security relevant rejections (wrong issuer, bad signature, ...).",
		}, []string{"domain", "kind"}),
		mfaOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualauth_mfa_outcomes_total",
			Help: "MFA challenge outcomes.",
		}, []string{"outcome"}),
		keyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualauth_keycache_fetches_total",
			Help: "Signing key set fetches by domain and result.",
		}, []string{"domain", "result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualauth_logins_total",
			Help: "Login attempts by domain and result.",
		}, []string{"domain", "result"}),
		auditRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualauth_audit_records_total",
			Help: "Audit records by outcome (written, failed, dropped).",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.requests, m.requestDuration, m.errors, m.verifications,
			m.securityEvents, m.mfaOutcomes, m.keyFetches, m.logins,
			m.auditRecords,
		)
	}
	return m
}

// RecordRequest counts a finished request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError counts an error response.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordVerification counts a token verification outcome.
func (m *Metrics) RecordVerification(domain, result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(domain, result).Inc()
}

// RecordSecurityEvent counts a security relevant rejection.
func (m *Metrics) RecordSecurityEvent(domain, kind string) {
	if m == nil {
		return
	}
	m.securityEvents.WithLabelValues(domain, kind).Inc()
}

// RecordMFA counts an MFA outcome.
func (m *Metrics) RecordMFA(outcome string) {
	if m == nil {
		return
	}
	m.mfaOutcomes.WithLabelValues(outcome).Inc()
}

// RecordKeyFetch counts a key set fetch.
func (m *Metrics) RecordKeyFetch(domain, result string) {
	if m == nil {
		return
	}
	m.keyFetches.WithLabelValues(domain, result).Inc()
}

// RecordLogin counts a login attempt.
func (m *Metrics) RecordLogin(domain, result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(domain, result).Inc()
}

// RecordAudit counts an audit record outcome.
func (m *Metrics) RecordAudit(outcome string) {
	if m == nil {
		return
	}
	m.auditRecords.WithLabelValues(outcome).Inc()
}
