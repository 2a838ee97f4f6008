// Package breaker implements a three-state circuit breaker guarding the
// downstream dispatch path. Outcomes are recorded into a rolling window;
// the breaker opens when the window's error rate or p95 latency crosses
// its threshold, rejects immediately while open, admits trial calls
// after a cooldown, and closes again after a run of consecutive trial
// successes.
package breaker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/metric"
)

// State is the breaker's current disposition
type State int

// Breaker states
const (
	// StateClosed admits all calls and watches the outcome window
	StateClosed State = iota
	// StateOpen rejects all calls until the cooldown elapses
	StateOpen
	// StateHalfOpen admits trial calls to probe the downstream
	StateHalfOpen
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls trip thresholds and recovery behavior
type Config struct {
	// WindowSize is the number of recent outcomes considered (rolling)
	WindowSize int
	// MinSamples is the minimum window population before trips apply
	MinSamples int
	// ErrorRateThreshold trips the breaker when exceeded, in [0,1]
	ErrorRateThreshold float64
	// LatencyThreshold trips the breaker when the window p95 exceeds it.
	// Zero disables the latency trip.
	LatencyThreshold time.Duration
	// Cooldown is how long the breaker stays open before admitting trials
	Cooldown time.Duration
	// HalfOpenSuccesses is the run of consecutive trial successes
	// required to close
	HalfOpenSuccesses int
}

// DefaultConfig returns conservative production defaults
func DefaultConfig() Config {
	return Config{
		WindowSize:         100,
		MinSamples:         10,
		ErrorRateThreshold: 0.5,
		LatencyThreshold:   2 * time.Second,
		Cooldown:           30 * time.Second,
		HalfOpenSuccesses:  3,
	}
}

// Validate checks the configuration for semantic errors
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: window size must be > 0, got %d", errors.ErrInvalidConfig, c.WindowSize)
	}
	if c.MinSamples <= 0 || c.MinSamples > c.WindowSize {
		return fmt.Errorf("%w: min samples must be in [1,%d], got %d", errors.ErrInvalidConfig, c.WindowSize, c.MinSamples)
	}
	if c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold > 1 {
		return fmt.Errorf("%w: error rate threshold must be in (0,1], got %v", errors.ErrInvalidConfig, c.ErrorRateThreshold)
	}
	if c.LatencyThreshold < 0 {
		return fmt.Errorf("%w: latency threshold must be >= 0, got %v", errors.ErrInvalidConfig, c.LatencyThreshold)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("%w: cooldown must be > 0, got %v", errors.ErrInvalidConfig, c.Cooldown)
	}
	if c.HalfOpenSuccesses <= 0 {
		return fmt.Errorf("%w: half-open successes must be > 0, got %d", errors.ErrInvalidConfig, c.HalfOpenSuccesses)
	}
	return nil
}

type outcome struct {
	failed  bool
	latency time.Duration
}

// Breaker is safe for concurrent use. All state transitions happen under
// a single mutex; Allow and Record are the only entry points.
type Breaker struct {
	cfg Config

	mu             sync.Mutex
	state          State
	window         []outcome
	next           int
	filled         bool
	openedAt       time.Time
	trialSuccesses int

	now     func() time.Time
	metrics *breakerMetrics
	onOpen  func(reason string)
}

// Option configures optional breaker behavior
type Option func(*Breaker)

// WithMetricsRegistry enables Prometheus state and transition metrics
func WithMetricsRegistry(registry *metric.Registry) Option {
	return func(b *Breaker) {
		m, err := newBreakerMetrics(registry)
		if err == nil {
			b.metrics = m
		}
	}
}

// WithOnOpen registers a callback invoked (outside the lock) whenever
// the breaker transitions to open, with the trip reason.
func WithOnOpen(fn func(reason string)) Option {
	return func(b *Breaker) { b.onOpen = fn }
}

// withClock overrides the time source for tests
func withClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a breaker in the closed state
func New(cfg Config, opts ...Option) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Breaker", "New", "validate config")
	}

	b := &Breaker{
		cfg:    cfg,
		state:  StateClosed,
		window: make([]outcome, cfg.WindowSize),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics.recordState(StateClosed)
	return b, nil
}

// State returns the current state, moving open to half-open if the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeEnterHalfOpen()
	return b.state
}

// Allow reports whether a call may proceed. Returns ErrCircuitOpen while
// the breaker is open and inside its cooldown.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeEnterHalfOpen()

	if b.state == StateOpen {
		b.metrics.recordShortCircuit()
		return errors.ErrCircuitOpen
	}
	return nil
}

// Record reports the outcome of an allowed call. err nil counts as
// success; latency feeds the p95 trip.
func (b *Breaker) Record(latency time.Duration, err error) {
	var opened string

	b.mu.Lock()
	switch b.state {
	case StateHalfOpen:
		if err != nil {
			b.open("trial_failure")
			opened = "trial_failure"
			break
		}
		b.trialSuccesses++
		if b.trialSuccesses >= b.cfg.HalfOpenSuccesses {
			b.close()
		}
	case StateClosed:
		b.record(outcome{failed: err != nil, latency: latency})
		if reason := b.tripReason(); reason != "" {
			b.open(reason)
			opened = reason
		}
	case StateOpen:
		// Late completion from before the trip; nothing to learn.
	}
	b.mu.Unlock()

	if opened != "" && b.onOpen != nil {
		b.onOpen(opened)
	}
}

// must hold mu
func (b *Breaker) maybeEnterHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
		b.trialSuccesses = 0
		b.metrics.recordState(StateHalfOpen)
	}
}

// must hold mu
func (b *Breaker) record(o outcome) {
	b.window[b.next] = o
	b.next++
	if b.next == len(b.window) {
		b.next = 0
		b.filled = true
	}
}

// must hold mu
func (b *Breaker) samples() []outcome {
	if b.filled {
		return b.window
	}
	return b.window[:b.next]
}

// tripReason returns the trip cause, or "" when the window is healthy.
// must hold mu
func (b *Breaker) tripReason() string {
	samples := b.samples()
	if len(samples) < b.cfg.MinSamples {
		return ""
	}

	failures := 0
	for _, o := range samples {
		if o.failed {
			failures++
		}
	}
	if float64(failures)/float64(len(samples)) > b.cfg.ErrorRateThreshold {
		return "error_rate"
	}

	if b.cfg.LatencyThreshold > 0 && percentile95(samples) > b.cfg.LatencyThreshold {
		return "latency"
	}
	return ""
}

// must hold mu
func (b *Breaker) open(reason string) {
	b.state = StateOpen
	b.openedAt = b.now()
	b.trialSuccesses = 0
	b.metrics.recordState(StateOpen)
	b.metrics.recordTrip(reason)
}

// must hold mu
func (b *Breaker) close() {
	b.state = StateClosed
	b.window = make([]outcome, b.cfg.WindowSize)
	b.next = 0
	b.filled = false
	b.trialSuccesses = 0
	b.metrics.recordState(StateClosed)
}

// percentile95 computes the nearest-rank p95 of the sample latencies
func percentile95(samples []outcome) time.Duration {
	latencies := make([]time.Duration, len(samples))
	for i, o := range samples {
		latencies[i] = o.latency
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	rank := (95*len(latencies) + 99) / 100 // ceil(0.95 * n)
	if rank < 1 {
		rank = 1
	}
	return latencies[rank-1]
}
