package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/metrics"
)

func TestRecorderCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := metrics.NewRecorder(reg)

	r.Validation(metrics.OutcomeValid, "server")
	r.Validation(metrics.OutcomeValid, "server")
	r.Validation(metrics.OutcomeValid, "cache")
	r.Validation(metrics.OutcomeError, "server")

	r.WebhookEvent("DID_RENEW", metrics.OutcomeApplied)
	r.WebhookEvent("DID_RENEW", metrics.OutcomeDuplicate)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]bool{}
	for _, f := range families {
		byName[f.GetName()] = true
	}
	assert.True(t, byName["entitlements_receipt_validations_total"])
	assert.True(t, byName["entitlements_webhook_events_total"])
}

func TestRecorderBreakerState(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := metrics.NewRecorder(reg)

	r.BreakerState("open")
	assert.Equal(t, 2.0, gaugeValue(t, reg, "entitlements_circuit_breaker_state"))

	r.BreakerState("half-open")
	assert.Equal(t, 1.0, gaugeValue(t, reg, "entitlements_circuit_breaker_state"))

	r.BreakerState("closed")
	assert.Equal(t, 0.0, gaugeValue(t, reg, "entitlements_circuit_breaker_state"))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			require.Len(t, f.GetMetric(), 1)
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestRecorderLatencyHistogram(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := metrics.NewRecorder(reg)

	r.UpstreamLatency(0.25)
	r.UpstreamLatency(1.5)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "entitlements_upstream_request_duration_seconds" {
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, uint64(2), f.GetMetric()[0].GetHistogram().GetSampleCount())
			return
		}
	}
	t.Fatal("latency histogram not registered")
}
