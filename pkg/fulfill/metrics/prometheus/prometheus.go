// Package prommetrics implements fulfill.Metrics using Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// Metrics implements fulfill.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal   *prometheus.CounterVec
	webhookDuration      *prometheus.HistogramVec
	checkoutSessions     *prometheus.CounterVec
	ledgerWritesTotal    *prometheus.CounterVec
	notificationsTotal   *prometheus.CounterVec
	tokenMintsTotal      *prometheus.CounterVec
	storeOpsDuration     *prometheus.HistogramVec
	storeOpsTotal        *prometheus.CounterVec
	apiCallsTotal        *prometheus.CounterVec
	apiCallDuration      *prometheus.HistogramVec
	circuitBreakerState  *prometheus.GaugeVec
	circuitBreakerChange *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of payment processor webhook events by outcome.",
		}, []string{"event_type", "outcome"}),

		webhookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		checkoutSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "sessions_total",
			Help:      "Total number of checkout session creation attempts.",
		}, []string{"kind", "status"}),

		ledgerWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "writes_total",
			Help:      "Total number of entitlement and purchase ledger writes.",
		}, []string{"operation", "target", "outcome"}),

		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Total number of purchase notification attempts by outcome.",
		}, []string{"outcome"}),

		tokenMintsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credentials",
			Name:      "token_mints_total",
			Help:      "Total number of service account token exchanges.",
		}, []string{"status"}),

		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "docstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of document store operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		storeOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "docstore",
			Name:      "operations_total",
			Help:      "Total number of document store operations.",
		}, []string{"operation", "status"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_calls_total",
			Help:      "Total number of API calls to the payment processor.",
		}, []string{"endpoint", "status"}),

		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_call_duration_seconds",
			Help:      "Duration of API calls to the payment processor in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		circuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "docstore",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (1 for the active state).",
		}, []string{"state"}),

		circuitBreakerChange: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "docstore",
			Name:      "circuit_breaker_changes_total",
			Help:      "Total number of circuit breaker state transitions.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	m.webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordWebhookDuration(eventType string, duration time.Duration) {
	m.webhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordCheckoutSession(kind, status string) {
	m.checkoutSessions.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordLedgerWrite(operation, target, outcome string) {
	m.ledgerWritesTotal.WithLabelValues(operation, target, outcome).Inc()
}

func (m *Metrics) RecordNotification(outcome string) {
	m.notificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTokenMint(status string) {
	m.tokenMintsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.storeOpsDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	m.storeOpsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) RecordAPICall(endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(endpoint, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(endpoint string, duration time.Duration) {
	m.apiCallDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	for _, s := range []fulfill.CircuitBreakerState{fulfill.StateClosed, fulfill.StateOpen, fulfill.StateHalfOpen} {
		value := 0.0
		if string(s) == state {
			value = 1
		}
		m.circuitBreakerState.WithLabelValues(string(s)).Set(value)
	}
	m.circuitBreakerChange.WithLabelValues(state).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) fulfill.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
