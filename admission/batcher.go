package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
)

// FlushFunc receives a completed batch in submission order
type FlushFunc[T any] func(ctx context.Context, batch []T)

// Batcher groups submissions into batches of at most maxSize items,
// flushing a partial batch after the linger interval so no item waits
// unboundedly. A single consumer goroutine drains the input channel,
// which preserves submission order within and across batches.
type Batcher[T any] struct {
	maxSize int
	linger  time.Duration
	flush   FlushFunc[T]

	input chan T

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	done        chan struct{}
	cancel      context.CancelFunc
}

// NewBatcher creates a batcher. maxSize must be > 0 and linger must be
// positive so a partial batch can never stall forever.
func NewBatcher[T any](maxSize int, linger time.Duration, queueSize int, flush FlushFunc[T]) (*Batcher[T], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: batch size must be > 0, got %d", errors.ErrInvalidConfig, maxSize),
			"Batcher", "NewBatcher", "validate size")
	}
	if linger <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: linger must be > 0, got %v", errors.ErrInvalidConfig, linger),
			"Batcher", "NewBatcher", "validate linger")
	}
	if flush == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: flush function required", errors.ErrInvalidConfig),
			"Batcher", "NewBatcher", "validate flush")
	}
	if queueSize <= 0 {
		queueSize = maxSize * 2
	}

	return &Batcher[T]{
		maxSize: maxSize,
		linger:  linger,
		flush:   flush,
		input:   make(chan T, queueSize),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the consumer goroutine
func (b *Batcher[T]) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.started {
		return errors.ErrAlreadyStarted
	}
	b.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel

	go b.run(runCtx)
	return nil
}

// Submit enqueues an item without blocking. Returns ErrOverloaded when
// the input queue is full.
func (b *Batcher[T]) Submit(item T) error {
	b.lifecycleMu.Lock()
	if !b.started || b.stopped {
		b.lifecycleMu.Unlock()
		return errors.ErrNotStarted
	}
	b.lifecycleMu.Unlock()

	select {
	case b.input <- item:
		return nil
	default:
		return errors.ErrOverloaded
	}
}

// Stop flushes any buffered items and stops the consumer. Blocks up to
// timeout waiting for the final flush.
func (b *Batcher[T]) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	if !b.started {
		b.lifecycleMu.Unlock()
		return errors.ErrNotStarted
	}
	if b.stopped {
		b.lifecycleMu.Unlock()
		return nil
	}
	b.stopped = true
	b.lifecycleMu.Unlock()

	close(b.input)

	select {
	case <-b.done:
		b.cancel()
		return nil
	case <-time.After(timeout):
		b.cancel()
		return errors.WrapTransient(errors.ErrTimeout, "Batcher", "Stop", "wait for final flush")
	}
}

func (b *Batcher[T]) run(ctx context.Context) {
	defer close(b.done)

	batch := make([]T, 0, b.maxSize)
	timer := time.NewTimer(b.linger)
	defer timer.Stop()
	timer.Stop()

	dispatch := func() {
		if len(batch) == 0 {
			return
		}
		b.flush(ctx, batch)
		batch = make([]T, 0, b.maxSize)
	}

	for {
		select {
		case item, ok := <-b.input:
			if !ok {
				dispatch()
				return
			}
			if len(batch) == 0 {
				timer.Reset(b.linger)
			}
			batch = append(batch, item)
			if len(batch) >= b.maxSize {
				timer.Stop()
				dispatch()
			}
		case <-timer.C:
			dispatch()
		case <-ctx.Done():
			dispatch()
			return
		}
	}
}
