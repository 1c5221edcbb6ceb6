package telemetry_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/escrowd/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterAndRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := telemetry.NewMetrics(registry)

	m.ObserveAPIRequest("POST", "/admin/payouts", 201, 15*time.Millisecond)
	m.RecordWebhookDelivery("stripe", "processed", time.Millisecond)
	m.RecordWebhookDelivery("", "", time.Millisecond)
	m.RecordWebhookThrottled("adyen")

	count, err := testutil.GatherAndCount(registry, "escrowd_webhook_deliveries_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(registry, "escrowd_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = testutil.GatherAndCount(registry, "escrowd_webhook_throttled_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestObserveWebhookBacklog(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := telemetry.NewMetrics(registry)

	m.ObserveWebhookBacklog(3, 90*time.Second)
	assert.Equal(t, 90.0, gaugeValue(t, registry, "escrowd_webhook_backlog_oldest_age_seconds"))
	assert.Equal(t, 3.0, gaugeValue(t, registry, "escrowd_webhook_backlog"))

	m.ObserveWebhookBacklog(0, -time.Second)
	assert.Equal(t, 0.0, gaugeValue(t, registry, "escrowd_webhook_backlog_oldest_age_seconds"))
}

func gaugeValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *telemetry.Metrics
	m.ObserveAPIRequest("GET", "/health", 200, time.Millisecond)
	m.RecordWebhookDelivery("stripe", "processed", time.Millisecond)
	m.RecordWebhookThrottled("stripe")
	m.ObserveWebhookBacklog(1, time.Second)
}
