// Package metric provides Prometheus metrics registration and the core
// platform metrics for the data river.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core river metrics shared across components.
// Domain-specific metrics (gate effectiveness, breaker windows) live in
// their owning packages and register through the Registry.
type Metrics struct {
	// River metrics
	PointsReceived     *prometheus.CounterVec
	PointsAdmitted     *prometheus.CounterVec
	PointsRejected     *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	CombinedScore      prometheus.Histogram
	InFlight           prometheus.Gauge
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	// Circuit breaker
	CircuitState prometheus.Gauge

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core river metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PointsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ecne",
				Subsystem: "river",
				Name:      "points_received_total",
				Help:      "Total number of data points submitted to the river",
			},
			[]string{"source"},
		),

		PointsAdmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ecne",
				Subsystem: "river",
				Name:      "points_admitted_total",
				Help:      "Total number of data points admitted by the filter gate",
			},
			[]string{"source"},
		),

		PointsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ecne",
				Subsystem: "river",
				Name:      "points_rejected_total",
				Help:      "Total number of rejected submissions by reason",
			},
			[]string{"source", "reason"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ecne",
				Subsystem: "river",
				Name:      "processing_duration_seconds",
				Help:      "Per-point pipeline processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		CombinedScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ecne",
				Subsystem: "river",
				Name:      "combined_score",
				Help:      "Distribution of combined coherence scores",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),

		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ecne",
				Subsystem: "river",
				Name:      "in_flight",
				Help:      "Number of points currently holding an admission slot",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ecne",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ecne",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		CircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ecne",
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ecne",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ecne",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordReceived increments the received counter for a source
func (m *Metrics) RecordReceived(source string) {
	m.PointsReceived.WithLabelValues(source).Inc()
}

// RecordAdmitted increments the admitted counter for a source
func (m *Metrics) RecordAdmitted(source string) {
	m.PointsAdmitted.WithLabelValues(source).Inc()
}

// RecordRejected increments the rejected counter for a source and reason
func (m *Metrics) RecordRejected(source, reason string) {
	m.PointsRejected.WithLabelValues(source, reason).Inc()
}

// RecordStageDuration records time spent in a pipeline stage
func (m *Metrics) RecordStageDuration(stage string, duration time.Duration) {
	m.ProcessingDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordScore records a combined coherence score observation
func (m *Metrics) RecordScore(score float64) {
	m.CombinedScore.Observe(score)
}

// RecordError increments the error counter
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordHealthStatus updates a component health gauge
func (m *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordCircuitState updates the circuit breaker state gauge
func (m *Metrics) RecordCircuitState(state int) {
	m.CircuitState.Set(float64(state))
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSReconnect increments the reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}
