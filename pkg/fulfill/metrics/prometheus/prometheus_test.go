package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric
			}
		}
	}
	return nil
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestPrometheusMetrics_WebhookEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookEvent("checkout.session.completed", "applied")
	metrics.RecordWebhookEvent("checkout.session.completed", "applied")
	metrics.RecordWebhookDuration("checkout.session.completed", 20*time.Millisecond)

	metric := findMetric(t, reg, "test_webhook_events_total", map[string]string{
		"event_type": "checkout.session.completed",
		"outcome":    "applied",
	})
	require.NotNil(t, metric)
	assert.Equal(t, 2.0, metric.GetCounter().GetValue())

	hist := findMetric(t, reg, "test_webhook_processing_duration_seconds", nil)
	require.NotNil(t, hist)
	assert.Equal(t, uint64(1), hist.GetHistogram().GetSampleCount())
}

func TestPrometheusMetrics_StoreOperationStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStoreOperation("patch", time.Millisecond, nil)
	metrics.RecordStoreOperation("patch", time.Millisecond, errors.New("boom"))

	ok := findMetric(t, reg, "test_docstore_operations_total", map[string]string{"operation": "patch", "status": "success"})
	failed := findMetric(t, reg, "test_docstore_operations_total", map[string]string{"operation": "patch", "status": "error"})
	require.NotNil(t, ok)
	require.NotNil(t, failed)
	assert.Equal(t, 1.0, ok.GetCounter().GetValue())
	assert.Equal(t, 1.0, failed.GetCounter().GetValue())
}

func TestPrometheusMetrics_CircuitBreakerGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordCircuitBreakerStateChange("open")

	open := findMetric(t, reg, "test_docstore_circuit_breaker_state", map[string]string{"state": "open"})
	closed := findMetric(t, reg, "test_docstore_circuit_breaker_state", map[string]string{"state": "closed"})
	require.NotNil(t, open)
	require.NotNil(t, closed)
	assert.Equal(t, 1.0, open.GetGauge().GetValue())
	assert.Equal(t, 0.0, closed.GetGauge().GetValue())
}

func TestPrometheusMetrics_LedgerAndNotifications(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordLedgerWrite("record_purchase", "pending", "written")
	metrics.RecordNotification("duplicate")
	metrics.RecordTokenMint("success")
	metrics.RecordCheckoutSession("cart", "success")
	metrics.RecordAPICall("/v1/checkout/sessions", "success")
	metrics.RecordAPICallDuration("/v1/checkout/sessions", time.Millisecond)

	assert.NotNil(t, findMetric(t, reg, "test_ledger_writes_total", map[string]string{"target": "pending"}))
	assert.NotNil(t, findMetric(t, reg, "test_notify_notifications_total", map[string]string{"outcome": "duplicate"}))
	assert.NotNil(t, findMetric(t, reg, "test_credentials_token_mints_total", nil))
	assert.NotNil(t, findMetric(t, reg, "test_checkout_sessions_total", map[string]string{"kind": "cart"}))
	assert.NotNil(t, findMetric(t, reg, "test_billing_api_calls_total", nil))
}
