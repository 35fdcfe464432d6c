package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Validation outcome label values.
const (
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Webhook outcome label values.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeNoop      = "noop"
	OutcomeRejected  = "rejected"
)

// Recorder exposes operational counters on the Prometheus registry. Business
// metrics (revenue, churn) live in the Collector; this covers the request
// path only.
type Recorder struct {
	validations     *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	breakerState    prometheus.Gauge
}

// NewRecorder registers the metric set with the given registerer. Pass
// prometheus.DefaultRegisterer in production, a fresh registry in tests.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		validations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entitlements",
			Name:      "receipt_validations_total",
			Help:      "Receipt validations by outcome and result source.",
		}, []string{"outcome", "source"}),
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entitlements",
			Name:      "webhook_events_total",
			Help:      "Store notifications by event type and processing outcome.",
		}, []string{"event_type", "outcome"}),
		upstreamLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "entitlements",
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of verification calls to the store API.",
			Buckets:   prometheus.DefBuckets,
		}),
		breakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "entitlements",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
	}
}

// Validation records a receipt validation outcome.
func (r *Recorder) Validation(outcome, source string) {
	r.validations.WithLabelValues(outcome, source).Inc()
}

// WebhookEvent records a processed store notification.
func (r *Recorder) WebhookEvent(eventType, outcome string) {
	r.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// UpstreamLatency records the duration of one store API round trip.
func (r *Recorder) UpstreamLatency(seconds float64) {
	r.upstreamLatency.Observe(seconds)
}

// BreakerState publishes the current circuit state. Open is the highest value
// so alerts can use a simple threshold.
func (r *Recorder) BreakerState(state string) {
	switch state {
	case "open":
		r.breakerState.Set(2)
	case "half-open":
		r.breakerState.Set(1)
	default:
		r.breakerState.Set(0)
	}
}
