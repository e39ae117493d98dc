package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricDeliveriesTotal          = "webhook_deliveries_total"
	MetricDeliveryDurationSeconds  = "webhook_delivery_duration_seconds"
	MetricRetriesTotal             = "webhook_retries_total"
)

// Outcome constants for delivery labeling.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Retry outcome constants for retry labeling.
const (
	RetryOutcomeSucceeded   = "succeeded"
	RetryOutcomeRescheduled = "rescheduled"
	RetryOutcomeDropped     = "dropped"
)

// Metrics contains Prometheus metrics for webhook delivery operations.
// All operations are thread-safe.
type Metrics struct {
	deliveriesTotal  *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	retriesTotal     *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDeliveriesTotal,
				Help: "Total number of webhook delivery attempts by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricDeliveryDurationSeconds,
				Help:    "Histogram of webhook delivery attempt duration in seconds by event",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"event"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRetriesTotal,
				Help: "Total number of processed webhook retry tasks by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncDeliveries increments the deliveries counter.
func (m *Metrics) IncDeliveries(event, outcome string) {
	m.deliveriesTotal.WithLabelValues(event, outcome).Inc()
}

// ObserveDeliveryDuration records a delivery attempt duration sample.
func (m *Metrics) ObserveDeliveryDuration(event string, seconds float64) {
	m.deliveryDuration.WithLabelValues(event).Observe(seconds)
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries(outcome string) {
	m.retriesTotal.WithLabelValues(outcome).Inc()
}

// Collectors returns all Prometheus collectors for registration and testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.deliveriesTotal,
		m.deliveryDuration,
		m.retriesTotal,
	}
}
