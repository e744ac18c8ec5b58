package fulfill

import "time"

// Metrics defines the interface for tracking fulfillment operations.
// All methods are optional - components fall back to NoopMetrics when nil.
type Metrics interface {
	// RecordWebhookEvent records a processed webhook event.
	// outcome: "applied", "ignored", "rejected" or "error"
	RecordWebhookEvent(eventType, outcome string)

	// RecordWebhookDuration records how long an event took to process.
	RecordWebhookDuration(eventType string, duration time.Duration)

	// RecordCheckoutSession records a checkout session creation attempt.
	// kind: "single" or "cart"; status: "success" or an error code
	RecordCheckoutSession(kind, status string)

	// RecordLedgerWrite records a ledger operation.
	// outcome: "written", "skipped" or "error"
	RecordLedgerWrite(operation, target, outcome string)

	// RecordNotification records a notification attempt.
	// outcome: "sent", "duplicate", "skipped" or "error"
	RecordNotification(outcome string)

	// RecordTokenMint records an access token mint against the token endpoint.
	RecordTokenMint(status string)

	// RecordStoreOperation records the duration and status of a document store call.
	RecordStoreOperation(operation string, duration time.Duration, err error)

	// RecordAPICall records an outbound payment processor call.
	RecordAPICall(endpoint, status string)

	// RecordAPICallDuration records how long a payment processor call took.
	RecordAPICallDuration(endpoint string, duration time.Duration)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                          {}
func (n *NoopMetrics) RecordWebhookDuration(_ string, _ time.Duration)         {}
func (n *NoopMetrics) RecordCheckoutSession(_, _ string)                       {}
func (n *NoopMetrics) RecordLedgerWrite(_, _, _ string)                        {}
func (n *NoopMetrics) RecordNotification(_ string)                             {}
func (n *NoopMetrics) RecordTokenMint(_ string)                                {}
func (n *NoopMetrics) RecordStoreOperation(_ string, _ time.Duration, _ error) {}
func (n *NoopMetrics) RecordAPICall(_, _ string)                               {}
func (n *NoopMetrics) RecordAPICallDuration(_ string, _ time.Duration)         {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(_ string)                {}

// MetricsOrNoop returns m, or a NoopMetrics when m is nil.
func MetricsOrNoop(m Metrics) Metrics {
	if m == nil {
		return &NoopMetrics{}
	}
	return m
}
