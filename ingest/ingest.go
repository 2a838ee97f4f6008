// Package ingest pulls raw data points off NATS and feeds them into the
// river through a rate limiter and a worker pool. Collectors publish
// JSON-encoded points on the raw subject tree; dedup and source-specific
// parsing are their job, not ours.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/health"
	"github.com/GreatPyreneseDad/ECNE-sub001/metric"
	"github.com/GreatPyreneseDad/ECNE-sub001/pkg/worker"
	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

// Processor consumes decoded points. river.River satisfies it.
type Processor interface {
	ProcessDataPoint(ctx context.Context, p point.DataPoint) (*point.FilteredDataPoint, error)
}

// Subscriber is the slice of the NATS client the ingester needs
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// Config controls the ingestion stage
type Config struct {
	// Subject is the raw-point subscription, e.g. "ecne.raw.>"
	Subject string
	// Workers is the number of pipeline submission workers
	Workers int
	// QueueSize bounds the pending-point queue
	QueueSize int
	// RateLimit caps accepted points per second; zero disables limiting
	RateLimit float64
	// RateBurst is the limiter burst size; defaults to RateLimit
	RateBurst int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Subject:   "ecne.raw.>",
		Workers:   8,
		QueueSize: 1024,
	}
}

// Validate checks the configuration for semantic errors
func (c Config) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("%w: subject required", errors.ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be > 0, got %d", errors.ErrInvalidConfig, c.Workers)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue size must be > 0, got %d", errors.ErrInvalidConfig, c.QueueSize)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must be >= 0, got %v", errors.ErrInvalidConfig, c.RateLimit)
	}
	return nil
}

// Ingester subscribes to the raw subject tree and pushes decoded points
// through the worker pool into the river.
type Ingester struct {
	cfg        Config
	subscriber Subscriber
	processor  Processor
	pool       *worker.Pool[point.DataPoint]
	limiter    *rate.Limiter
	logger     *slog.Logger
	health     *health.Monitor

	received  atomic.Int64
	malformed atomic.Int64
	throttled atomic.Int64
	dropped   atomic.Int64

	lifecycleMu sync.Mutex
	started     bool
}

// New creates an ingester. health and registry may be nil.
func New(cfg Config, subscriber Subscriber, processor Processor,
	monitor *health.Monitor, registry *metric.Registry, logger *slog.Logger) (*Ingester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Ingester", "New", "validate config")
	}
	if subscriber == nil || processor == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: subscriber and processor required", errors.ErrInvalidConfig),
			"Ingester", "New", "validate dependencies")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	ing := &Ingester{
		cfg:        cfg,
		subscriber: subscriber,
		processor:  processor,
		limiter:    limiter,
		logger:     logger,
		health:     monitor,
	}

	ing.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, ing.process,
		worker.WithMetricsRegistry[point.DataPoint](registry, "ingest"))

	return ing, nil
}

// Start launches the worker pool and subscribes to the raw subjects
func (i *Ingester) Start(ctx context.Context) error {
	i.lifecycleMu.Lock()
	defer i.lifecycleMu.Unlock()

	if i.started {
		return errors.ErrAlreadyStarted
	}

	if err := i.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Ingester", "Start", "start worker pool")
	}

	if err := i.subscriber.Subscribe(ctx, i.cfg.Subject, i.handleMessage); err != nil {
		_ = i.pool.Stop(time.Second)
		return errors.Wrap(err, "Ingester", "Start",
			fmt.Sprintf("subscribe to %s", i.cfg.Subject))
	}

	i.started = true
	i.updateHealth(health.NewHealthy("ingest", fmt.Sprintf("consuming %s", i.cfg.Subject)))
	i.logger.Info("ingestion started",
		"subject", i.cfg.Subject,
		"workers", i.cfg.Workers,
		"rate_limit", i.cfg.RateLimit)
	return nil
}

// Stop drains the worker pool
func (i *Ingester) Stop(timeout time.Duration) error {
	i.lifecycleMu.Lock()
	defer i.lifecycleMu.Unlock()

	if !i.started {
		return errors.ErrNotStarted
	}
	i.started = false

	err := i.pool.Stop(timeout)
	i.updateHealth(health.NewUnhealthy("ingest", "stopped"))
	return err
}

// handleMessage decodes, validates, rate-limits, and enqueues one point
func (i *Ingester) handleMessage(_ context.Context, data []byte) {
	i.received.Add(1)

	var p point.DataPoint
	if err := json.Unmarshal(data, &p); err != nil {
		i.malformed.Add(1)
		i.logger.Warn("discarding undecodable point", "error", err)
		return
	}
	if err := p.Validate(); err != nil {
		i.malformed.Add(1)
		i.logger.Warn("discarding invalid point", "point_id", p.ID, "error", err)
		return
	}

	if i.limiter != nil && !i.limiter.Allow() {
		i.throttled.Add(1)
		return
	}

	if err := i.pool.Submit(p); err != nil {
		i.dropped.Add(1)
		i.logger.Warn("ingest queue full, dropping point", "point_id", p.ID)
	}
}

// process is the worker-pool callback submitting into the river
func (i *Ingester) process(ctx context.Context, p point.DataPoint) error {
	_, err := i.processor.ProcessDataPoint(ctx, p)
	if err != nil {
		// Point-scoped failures are expected under load and breaker
		// trips; they are already counted by the river.
		i.logger.Debug("point not stored", "point_id", p.ID, "error", err)
	}
	return err
}

// Stats reports ingestion counters
func (i *Ingester) Stats() Stats {
	pool := i.pool.Stats()
	return Stats{
		Received:  i.received.Load(),
		Malformed: i.malformed.Load(),
		Throttled: i.throttled.Load(),
		Dropped:   i.dropped.Load(),
		Queued:    pool.QueueDepth,
		Processed: pool.Processed,
	}
}

// Stats summarizes ingestion activity
type Stats struct {
	Received  int64
	Malformed int64
	Throttled int64
	Dropped   int64
	Queued    int
	Processed int64
}

func (i *Ingester) updateHealth(s health.Status) {
	if i.health == nil {
		return
	}
	i.health.Update("ingest", s)
}
