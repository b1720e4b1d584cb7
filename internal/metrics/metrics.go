package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// ErrorCounter counts errors by type and endpoint
	ErrorCounter *prometheus.CounterVec
	// TokenRefreshes counts refresh attempts by provider and outcome
	TokenRefreshes *prometheus.CounterVec
	// TokenRefreshJoins counts callers that joined an in-flight refresh
	// instead of starting their own
	TokenRefreshJoins prometheus.Counter
	// SyncRuns counts sync executions by type and terminal status
	SyncRuns *prometheus.CounterVec
	// SyncRunDuration tracks sync run wall time
	SyncRunDuration *prometheus.HistogramVec
	// RecordsReconciled counts upserted records by model and kind
	RecordsReconciled *prometheus.CounterVec
	// ConnectionsTotal tracks stored connections per account
	ConnectionsTotal *prometheus.GaugeVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "endpoint", "method"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of token refresh attempts",
			},
			[]string{"provider", "outcome"},
		),
		TokenRefreshJoins: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_joins_total",
				Help:      "Callers that joined an in-flight refresh",
			},
		),
		SyncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Total number of sync runs",
			},
			[]string{"sync_type", "status"},
		),
		SyncRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_run_duration_seconds",
				Help:      "Sync run duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
			[]string{"sync_type"},
		),
		RecordsReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_reconciled_total",
				Help:      "Total number of records written by reconciliation",
			},
			[]string{"model", "kind"},
		),
		ConnectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Stored connections per account",
			},
			[]string{"account_id"},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ErrorCounter,
		m.TokenRefreshes,
		m.TokenRefreshJoins,
		m.SyncRuns,
		m.SyncRunDuration,
		m.RecordsReconciled,
		m.ConnectionsTotal,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, endpoint, method string) {
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// RecordTokenRefresh records a refresh attempt outcome
func (m *Metrics) RecordTokenRefresh(provider, outcome string) {
	m.TokenRefreshes.WithLabelValues(provider, outcome).Inc()
}

// RecordTokenRefreshJoin records a caller coalescing onto an in-flight refresh
func (m *Metrics) RecordTokenRefreshJoin() {
	m.TokenRefreshJoins.Inc()
}

// RecordSyncRun records a finished sync run
func (m *Metrics) RecordSyncRun(syncType, status string, durationSeconds float64) {
	m.SyncRuns.WithLabelValues(syncType, status).Inc()
	m.SyncRunDuration.WithLabelValues(syncType).Observe(durationSeconds)
}

// RecordRecordsReconciled records reconciliation output counts
func (m *Metrics) RecordRecordsReconciled(model string, added, updated int64) {
	if added > 0 {
		m.RecordsReconciled.WithLabelValues(model, "added").Add(float64(added))
	}
	if updated > 0 {
		m.RecordsReconciled.WithLabelValues(model, "updated").Add(float64(updated))
	}
}

// SetConnectionsTotal sets the stored connection count for an account
func (m *Metrics) SetConnectionsTotal(accountID string, count int) {
	m.ConnectionsTotal.WithLabelValues(accountID).Set(float64(count))
}
