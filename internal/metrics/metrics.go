package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/felixgeelhaar/meetdash/internal/errors"
)

// Metrics holds all Prometheus metrics for meetdash.
//
// Every Record method is safe to call on a nil *Metrics so libraries can be
// used without a registry.
type Metrics struct {
	// API client metrics
	APIRequests  *prometheus.CounterVec
	APILatency   *prometheus.HistogramVec
	APIRetries   *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec

	// Auth orchestrator metrics
	AuthOperations *prometheus.CounterVec

	// MFA enrollment metrics
	MFATransitions *prometheus.CounterVec

	// Route guard metrics
	GuardDecisions *prometheus.CounterVec

	// Query cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetdash_api_requests_total",
				Help: "Total number of backend API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		APILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetdash_api_latency_seconds",
				Help:    "Backend API request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		APIRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetdash_api_retries_total",
				Help: "Total number of retried API attempts",
			},
			[]string{"endpoint"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meetdash_circuit_breaker_state",
				Help: "Current state of the API circuit breaker (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),

		AuthOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetdash_auth_operations_total",
				Help: "Total number of auth operations by outcome",
			},
			[]string{"operation", "success"},
		),

		MFATransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetdash_mfa_transitions_total",
				Help: "Total number of MFA enrollment state transitions",
			},
			[]string{"from", "to"},
		),

		GuardDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetdash_guard_decisions_total",
				Help: "Total number of route guard decisions",
			},
			[]string{"kind", "target"},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetdash_cache_hits_total",
				Help: "Total number of query cache hits",
			},
			[]string{"key"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetdash_cache_misses_total",
				Help: "Total number of query cache misses",
			},
			[]string{"key"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetdash_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code"},
		),
	}
}

// RecordAPIRequest counts one finished request. A status of 0 means the
// request never got a response.
func (m *Metrics) RecordAPIRequest(method, endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(method, endpoint, statusLabel(status)).Inc()
	m.APILatency.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// RecordRetry counts one retried attempt.
func (m *Metrics) RecordRetry(endpoint string) {
	if m == nil {
		return
	}
	m.APIRetries.WithLabelValues(endpoint).Inc()
}

// SetBreakerState records the breaker state as a gauge value.
func (m *Metrics) SetBreakerState(name string, value float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(value)
}

// RecordAuth counts an auth operation and its error code on failure.
func (m *Metrics) RecordAuth(operation string, err error) {
	if m == nil {
		return
	}
	m.AuthOperations.WithLabelValues(operation, strconv.FormatBool(err == nil)).Inc()
	m.RecordError(err)
}

// RecordMFATransition counts one enrollment state change.
func (m *Metrics) RecordMFATransition(from, to string) {
	if m == nil {
		return
	}
	m.MFATransitions.WithLabelValues(from, to).Inc()
}

// RecordGuardDecision counts one guard outcome.
func (m *Metrics) RecordGuardDecision(kind, target string) {
	if m == nil {
		return
	}
	m.GuardDecisions.WithLabelValues(kind, target).Inc()
}

// RecordCache counts a cache lookup.
func (m *Metrics) RecordCache(key string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(key).Inc()
		return
	}
	m.CacheMisses.WithLabelValues(key).Inc()
}

// RecordError counts err by its DashError code. Nil errors are ignored and
// uncoded errors count as "unknown".
func (m *Metrics) RecordError(err error) {
	if m == nil || err == nil {
		return
	}
	code := string(errors.CodeOf(err))
	if code == "" {
		code = "unknown"
	}
	m.Errors.WithLabelValues(code).Inc()
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
