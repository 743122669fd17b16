package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	CarrierErrors       *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	Aggregations        *prometheus.CounterVec
	AggregationOptions  *prometheus.HistogramVec
	AggregationDuration *prometheus.HistogramVec
}

// NewMetrics creates metrics and registers them with reg, or with the
// default registry when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_requests_total",
				Help: "Total number of requests by operation, carrier, and status",
			},
			[]string{"operation", "carrier", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulfillment_request_duration_seconds",
				Help:    "Request duration in seconds by operation and carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "carrier"},
		),
		CarrierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_carrier_errors_total",
				Help: "Total carrier API errors by carrier and error type",
			},
			[]string{"carrier", "error_type"},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_shipment_transitions_total",
				Help: "Shipment state transitions by carrier and states",
			},
			[]string{"carrier", "from", "to"},
		),
		Aggregations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_option_aggregations_total",
				Help: "Checkout option aggregations by outcome",
			},
			[]string{"outcome"},
		),
		AggregationOptions: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulfillment_option_aggregation_options",
				Help:    "Options offered per aggregation by group count",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
			},
			[]string{"groups"},
		),
		AggregationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulfillment_option_aggregation_duration_seconds",
				Help:    "Option aggregation duration in seconds by outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
}

// RecordRequest records a request metric.
func (m *Metrics) RecordRequest(operation, carrier, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(operation, carrier, status).Inc()
	m.RequestDuration.WithLabelValues(operation, carrier).Observe(duration)
}

// RecordError records a carrier error metric.
func (m *Metrics) RecordError(carrier, errorType string) {
	m.CarrierErrors.WithLabelValues(carrier, errorType).Inc()
}

// RecordTransition counts a shipment state transition.
func (m *Metrics) RecordTransition(carrier, from, to string) {
	if from == "" {
		from = "none"
	}
	m.Transitions.WithLabelValues(carrier, from, to).Inc()
}

// RecordAggregation records one option aggregation.
func (m *Metrics) RecordAggregation(outcome string, groups, options int, duration float64) {
	m.Aggregations.WithLabelValues(outcome).Inc()
	m.AggregationOptions.WithLabelValues(groupLabel(groups)).Observe(float64(options))
	m.AggregationDuration.WithLabelValues(outcome).Observe(duration)
}

func groupLabel(groups int) string {
	switch {
	case groups <= 1:
		return "1"
	case groups <= 3:
		return "2-3"
	default:
		return "4+"
	}
}
