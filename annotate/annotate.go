// Package annotate enriches filtered points after admission. Annotators
// are strictly optional: they may add annotations but never change the
// admission outcome, and a slow or failing annotator degrades to
// passthrough instead of failing the point.
package annotate

import (
	"context"
	"log/slog"
	"time"

	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

// Annotator enriches a filtered point. Implementations must be safe for
// concurrent use and must return a point even on error (callers fall
// back to it).
type Annotator interface {
	// Name identifies the annotator in logs and annotations
	Name() string
	// Annotate returns an enriched copy of the point
	Annotate(ctx context.Context, fp point.FilteredDataPoint) (point.FilteredDataPoint, error)
}

// Nop is the default annotator; it returns the point unchanged.
type Nop struct{}

// Name returns the annotator name
func (Nop) Name() string { return "nop" }

// Annotate returns the point unchanged
func (Nop) Annotate(_ context.Context, fp point.FilteredDataPoint) (point.FilteredDataPoint, error) {
	return fp, nil
}

// Chain applies annotators in order, feeding each one's output to the
// next. Per-annotator failures degrade to passthrough for that stage.
type Chain struct {
	annotators []Annotator
	logger     *slog.Logger
}

// NewChain builds an annotation chain. A nil logger falls back to the
// default slog logger.
func NewChain(logger *slog.Logger, annotators ...Annotator) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{annotators: annotators, logger: logger}
}

// Name returns the annotator name
func (c *Chain) Name() string { return "chain" }

// Annotate runs the chain. Never returns an error: a failed stage is
// skipped and its input flows on.
func (c *Chain) Annotate(ctx context.Context, fp point.FilteredDataPoint) (point.FilteredDataPoint, error) {
	for _, a := range c.annotators {
		enriched, err := a.Annotate(ctx, fp)
		if err != nil {
			c.logger.Warn("annotator failed, passing point through",
				"annotator", a.Name(),
				"point_id", fp.ID,
				"error", err)
			continue
		}
		fp = enriched
	}
	return fp, nil
}

// WithTimeout wraps an annotator with a per-call deadline. When the
// deadline expires the original point passes through unchanged; the
// wrapped annotator's late result is discarded.
func WithTimeout(a Annotator, timeout time.Duration, logger *slog.Logger) Annotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &timeoutAnnotator{inner: a, timeout: timeout, logger: logger}
}

type timeoutAnnotator struct {
	inner   Annotator
	timeout time.Duration
	logger  *slog.Logger
}

func (t *timeoutAnnotator) Name() string { return t.inner.Name() }

func (t *timeoutAnnotator) Annotate(ctx context.Context, fp point.FilteredDataPoint) (point.FilteredDataPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		fp  point.FilteredDataPoint
		err error
	}

	// Buffered so a late inner result never leaks the goroutine.
	ch := make(chan result, 1)
	go func() {
		enriched, err := t.inner.Annotate(ctx, fp)
		ch <- result{fp: enriched, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fp, r.err
		}
		return r.fp, nil
	case <-ctx.Done():
		t.logger.Warn("annotator timed out, passing point through",
			"annotator", t.inner.Name(),
			"point_id", fp.ID,
			"timeout", t.timeout)
		return fp, nil
	}
}
