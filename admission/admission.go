// Package admission bounds in-flight concurrency for the river. Capacity
// is modeled as slot tokens: a slot is acquired before a point enters the
// pipeline and released exactly once when its terminal outcome is known.
//
// Overflow policy is configurable: shed (fail fast with ErrOverloaded,
// the default) or queue (wait up to a bounded backlog duration, then
// fail). Unbounded queueing is deliberately impossible.
package admission

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/metric"
)

// Policy selects the behavior when capacity is exhausted
type Policy string

// Overflow policies
const (
	// PolicyShed rejects immediately when no slot is free
	PolicyShed Policy = "shed"
	// PolicyQueue waits up to the configured backlog duration for a slot
	PolicyQueue Policy = "queue"
)

// Controller hands out admission slots up to a fixed concurrency bound.
// The capacity counter is the channel itself; callers never see raw
// shared state.
type Controller struct {
	slots     chan struct{}
	capacity  int
	policy    Policy
	queueWait time.Duration

	inFlight atomic.Int64
	metrics  *admissionMetrics
}

// NewController creates an admission controller with the given capacity.
// queueWait bounds the wait under PolicyQueue and is ignored under
// PolicyShed. The registry may be nil to disable metrics.
func NewController(maxConcurrent int, policy Policy, queueWait time.Duration, registry *metric.Registry) (*Controller, error) {
	if maxConcurrent <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: maxConcurrent must be > 0, got %d", errors.ErrInvalidConfig, maxConcurrent),
			"Controller", "NewController", "validate capacity")
	}

	switch policy {
	case PolicyShed, PolicyQueue:
	case "":
		policy = PolicyShed
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown admission policy %q", errors.ErrInvalidConfig, policy),
			"Controller", "NewController", "validate policy")
	}

	if policy == PolicyQueue && queueWait <= 0 {
		queueWait = time.Second
	}

	metrics, err := newAdmissionMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Controller{
		slots:     make(chan struct{}, maxConcurrent),
		capacity:  maxConcurrent,
		policy:    policy,
		queueWait: queueWait,
		metrics:   metrics,
	}, nil
}

// Capacity returns the maximum number of concurrent slots
func (c *Controller) Capacity() int {
	return c.capacity
}

// InFlight returns the number of currently held slots
func (c *Controller) InFlight() int {
	return int(c.inFlight.Load())
}

// Acquire reserves an admission slot. Returns ErrOverloaded when
// capacity is exhausted (immediately under shed, after the bounded
// backlog wait under queue). The context bounds the wait in both modes.
func (c *Controller) Acquire(ctx context.Context) (*Slot, error) {
	select {
	case c.slots <- struct{}{}:
		return c.granted(), nil
	default:
	}

	if c.policy == PolicyShed {
		c.metrics.recordRejected()
		return nil, errors.ErrOverloaded
	}

	start := time.Now()
	timer := time.NewTimer(c.queueWait)
	defer timer.Stop()

	select {
	case c.slots <- struct{}{}:
		c.metrics.recordQueueWait(time.Since(start))
		return c.granted(), nil
	case <-timer.C:
		c.metrics.recordRejected()
		return nil, errors.ErrOverloaded
	case <-ctx.Done():
		c.metrics.recordRejected()
		return nil, errors.WrapTransient(ctx.Err(), "Controller", "Acquire", "wait for slot")
	}
}

func (c *Controller) granted() *Slot {
	n := c.inFlight.Add(1)
	c.metrics.recordAcquired(n)
	return &Slot{controller: c}
}

func (c *Controller) release() {
	<-c.slots
	n := c.inFlight.Add(-1)
	c.metrics.recordReleased(n)
}

// Slot is a token for reserved capacity. Release must be called exactly
// once; releasing twice is a programming error and panics rather than
// silently corrupting the capacity count.
type Slot struct {
	controller *Controller
	released   atomic.Bool
}

// Release returns the slot to the controller
func (s *Slot) Release() {
	if !s.released.CompareAndSwap(false, true) {
		panic("admission: slot released twice")
	}
	s.controller.release()
}
