package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Webhook / engine metrics
	webhookEventsTotal    *prometheus.CounterVec
	webhookBatchDuration  *prometheus.HistogramVec
	webhookAuthFailures   *prometheus.CounterVec
	escrowTransitions     *prometheus.CounterVec
	escrowDeltaAmbiguous  *prometheus.CounterVec
	depositsClassified    *prometheus.CounterVec
	poolTradesRecorded    *prometheus.CounterVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Total number of webhook events by source, kind, and outcome",
			},
			[]string{"source", "kind", "outcome"},
		),
		webhookBatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_batch_duration_seconds",
				Help:    "Duration of webhook batch processing in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"source"},
		),
		webhookAuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_auth_failures_total",
				Help: "Total number of webhook batches rejected for invalid signatures",
			},
			[]string{"source"},
		),
		escrowTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_transitions_total",
				Help: "Total number of escrow status transitions applied",
			},
			[]string{"transition"},
		),
		escrowDeltaAmbiguous: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_delta_ambiguous_total",
				Help: "Balance-update events whose native transfers disagree in sign for the escrow account",
			},
			[]string{"escrow_pda"},
		),
		depositsClassified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_deposits_classified_total",
				Help: "Total number of treasury deposits recorded by classified type",
			},
			[]string{"type"},
		),
		poolTradesRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pool_trades_recorded_total",
				Help: "Total number of trades folded into pool statistics",
			},
			[]string{"token_mint"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// RecordEventOutcome records the outcome of one processed webhook event.
func (m *Metrics) RecordEventOutcome(source, kind, outcome string) {
	m.webhookEventsTotal.WithLabelValues(source, kind, outcome).Inc()
}

// RecordBatchDuration records how long one webhook batch took to process.
func (m *Metrics) RecordBatchDuration(source string, duration float64) {
	m.webhookBatchDuration.WithLabelValues(source).Observe(duration)
}

// RecordAuthFailure records a rejected webhook batch.
func (m *Metrics) RecordAuthFailure(source string) {
	m.webhookAuthFailures.WithLabelValues(source).Inc()
}

// RecordEscrowTransition records one applied escrow status transition.
func (m *Metrics) RecordEscrowTransition(transition string) {
	m.escrowTransitions.WithLabelValues(transition).Inc()
}

// RecordAmbiguousDelta records a balance-update whose transfers net out with
// conflicting signs. The delta-sign heuristic is a known approximation; this
// counter is its monitoring hook.
func (m *Metrics) RecordAmbiguousDelta(escrowPDA string) {
	m.escrowDeltaAmbiguous.WithLabelValues(escrowPDA).Inc()
}

// RecordDepositClassified records one recorded treasury deposit.
func (m *Metrics) RecordDepositClassified(depositType string) {
	m.depositsClassified.WithLabelValues(depositType).Inc()
}

// RecordPoolTrade records one trade folded into pool statistics.
func (m *Metrics) RecordPoolTrade(tokenMint string) {
	m.poolTradesRecorded.WithLabelValues(tokenMint).Inc()
}

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
