package event

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/metric"
)

// Subscription is a bounded event feed. Events arrive on C; Drops counts
// events lost because the buffer was full when they were published.
type Subscription struct {
	name string
	ch   chan Event

	drops  atomic.Int64
	closed atomic.Bool
}

// C returns the subscription's receive channel. The channel is closed
// when the subscription is cancelled or the bus shuts down.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Name returns the subscriber name given at subscription time
func (s *Subscription) Name() string {
	return s.name
}

// Drops returns the number of events dropped for this subscriber
func (s *Subscription) Drops() int64 {
	return s.drops.Load()
}

// Bus fans events out to subscribers without ever blocking the
// publisher. Each subscriber gets its own bounded buffer; a full buffer
// drops the event for that subscriber only.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	metrics *busMetrics
}

// NewBus creates an event bus. Both arguments may be nil.
func NewBus(logger *slog.Logger, registry *metric.Registry) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newBusMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Bus{
		logger:  logger,
		subs:    make(map[*Subscription]struct{}),
		metrics: metrics,
	}, nil
}

// Subscribe registers a named subscriber with the given buffer size
func (b *Bus) Subscribe(name string, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: subscriber buffer must be > 0, got %d", errors.ErrInvalidConfig, buffer),
			"Bus", "Subscribe", "validate buffer")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.ErrShuttingDown
	}

	sub := &Subscription{name: name, ch: make(chan Event, buffer)}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	if sub.closed.CompareAndSwap(false, true) {
		close(sub.ch)
	}
}

// Publish delivers the event to every subscriber that has buffer space.
// Never blocks; full subscribers drop the event.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.metrics.recordPublished(e.Type)

	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			dropped := sub.drops.Add(1)
			b.metrics.recordDropped(sub.name)
			// Log the first drop and every 1000th after that.
			if dropped == 1 || dropped%1000 == 0 {
				b.logger.Warn("event subscriber falling behind, dropping events",
					"subscriber", sub.name,
					"dropped_total", dropped,
					"event_type", e.Type)
			}
		}
	}
}

// Close shuts the bus down and closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for sub := range b.subs {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
		}
		delete(b.subs, sub)
	}
}

// busMetrics holds Prometheus metrics for event delivery.
type busMetrics struct {
	published *prometheus.CounterVec // by event type
	dropped   *prometheus.CounterVec // by subscriber
}

func newBusMetrics(registry *metric.Registry) (*busMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &busMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecne",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total events published by type",
		}, []string{"type"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecne",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total events dropped per subscriber due to full buffers",
		}, []string{"subscriber"}),
	}

	if err := registry.RegisterCounterVec("events", "published_total", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("events", "dropped_total", m.dropped); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *busMetrics) recordPublished(t Type) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(string(t)).Inc()
}

func (m *busMetrics) recordDropped(subscriber string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(subscriber).Inc()
}
