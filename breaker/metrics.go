package breaker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GreatPyreneseDad/ECNE-sub001/metric"
)

// breakerMetrics holds Prometheus metrics for breaker state and trips.
type breakerMetrics struct {
	state         prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	trips         *prometheus.CounterVec // by reason (error_rate/latency/trial_failure)
	shortCircuits prometheus.Counter
}

// newBreakerMetrics creates and registers breaker metrics with the
// registry. A nil registry disables metrics.
func newBreakerMetrics(registry *metric.Registry) (*breakerMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &breakerMetrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ecne",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Current breaker state (0=closed, 1=open, 2=half-open)",
		}),

		trips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecne",
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Total number of breaker trips by reason",
		}, []string{"reason"}),

		shortCircuits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecne",
			Subsystem: "breaker",
			Name:      "short_circuits_total",
			Help:      "Total number of calls rejected while the breaker was open",
		}),
	}

	if err := registry.RegisterGauge("breaker", "state", m.state); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("breaker", "trips_total", m.trips); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("breaker", "short_circuits_total", m.shortCircuits); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *breakerMetrics) recordState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *breakerMetrics) recordTrip(reason string) {
	if m == nil {
		return
	}
	m.trips.WithLabelValues(reason).Inc()
}

func (m *breakerMetrics) recordShortCircuit() {
	if m == nil {
		return
	}
	m.shortCircuits.Inc()
}
