package gate

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GreatPyreneseDad/ECNE-sub001/metric"
)

// gateMetrics holds Prometheus metrics for gate decisions.
type gateMetrics struct {
	decisions *prometheus.CounterVec // by decision (admit/reject)
	admitRate prometheus.Gauge       // admitted / evaluated

	admitted  int64
	evaluated int64
}

// newGateMetrics creates and registers gate metrics with the registry.
// A nil registry disables metrics.
func newGateMetrics(registry *metric.Registry) (*gateMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &gateMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecne",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Total number of gate decisions by outcome",
		}, []string{"decision"}),

		admitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ecne",
			Subsystem: "gate",
			Name:      "admit_rate",
			Help:      "Fraction of evaluated points admitted by the gate",
		}),
	}

	if err := registry.RegisterCounterVec("gate", "decisions_total", m.decisions); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("gate", "admit_rate", m.admitRate); err != nil {
		return nil, err
	}

	return m, nil
}

// recordDecision records a gate outcome; safe on a nil receiver.
func (m *gateMetrics) recordDecision(decision Decision) {
	if m == nil {
		return
	}

	m.decisions.WithLabelValues(decision.String()).Inc()

	evaluated := atomic.AddInt64(&m.evaluated, 1)
	admitted := atomic.LoadInt64(&m.admitted)
	if decision == Admit {
		admitted = atomic.AddInt64(&m.admitted, 1)
	}
	m.admitRate.Set(float64(admitted) / float64(evaluated))
}
