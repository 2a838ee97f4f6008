package admission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GreatPyreneseDad/ECNE-sub001/metric"
)

// admissionMetrics holds Prometheus metrics for slot accounting.
type admissionMetrics struct {
	inFlight  prometheus.Gauge
	acquired  prometheus.Counter
	rejected  prometheus.Counter
	queueWait prometheus.Histogram
}

// newAdmissionMetrics creates and registers admission metrics with the
// registry. A nil registry disables metrics.
func newAdmissionMetrics(registry *metric.Registry) (*admissionMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &admissionMetrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ecne",
			Subsystem: "admission",
			Name:      "slots_in_flight",
			Help:      "Number of admission slots currently held",
		}),

		acquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecne",
			Subsystem: "admission",
			Name:      "slots_acquired_total",
			Help:      "Total number of admission slots granted",
		}),

		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecne",
			Subsystem: "admission",
			Name:      "rejected_total",
			Help:      "Total number of acquisitions rejected for lack of capacity",
		}),

		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ecne",
			Subsystem: "admission",
			Name:      "queue_wait_seconds",
			Help:      "Time spent waiting for a slot under the queue policy",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	if err := registry.RegisterGauge("admission", "slots_in_flight", m.inFlight); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("admission", "slots_acquired_total", m.acquired); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("admission", "rejected_total", m.rejected); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("admission", "queue_wait_seconds", m.queueWait); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *admissionMetrics) recordAcquired(inFlight int64) {
	if m == nil {
		return
	}
	m.acquired.Inc()
	m.inFlight.Set(float64(inFlight))
}

func (m *admissionMetrics) recordReleased(inFlight int64) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(inFlight))
}

func (m *admissionMetrics) recordRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *admissionMetrics) recordQueueWait(d time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Observe(d.Seconds())
}
