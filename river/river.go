// Package river composes scoring, gating, admission control, annotation,
// and breaker-guarded sink dispatch into the per-point pipeline. Every
// submitted point reaches exactly one terminal outcome: a stored
// FilteredDataPoint, a nil result for a point below threshold, or an
// error carrying a reason code.
package river

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GreatPyreneseDad/ECNE-sub001/admission"
	"github.com/GreatPyreneseDad/ECNE-sub001/annotate"
	"github.com/GreatPyreneseDad/ECNE-sub001/breaker"
	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/event"
	"github.com/GreatPyreneseDad/ECNE-sub001/gate"
	"github.com/GreatPyreneseDad/ECNE-sub001/health"
	"github.com/GreatPyreneseDad/ECNE-sub001/metric"
	"github.com/GreatPyreneseDad/ECNE-sub001/point"
	"github.com/GreatPyreneseDad/ECNE-sub001/sink"
)

// Pipeline stage labels for duration metrics
const (
	stageScore    = "score"
	stageAnnotate = "annotate"
	stageDispatch = "dispatch"
)

// Scorer computes a coherence vector and its combined score.
// coherence.Scorer is the production implementation.
type Scorer interface {
	Score(p point.DataPoint) (point.Vector, error)
	Combined(v point.Vector) float64
}

// Options collects the river's collaborators. Scorer, Gate, Admission,
// Breaker, and Sink are required; the rest are optional.
type Options struct {
	Scorer    Scorer
	Gate      *gate.Gate
	Admission *admission.Controller
	Breaker   *breaker.Breaker
	Annotator annotate.Annotator
	Sink      sink.Sink
	Bus       *event.Bus
	Metrics   *metric.Metrics
	Health    *health.Monitor
	Logger    *slog.Logger

	// ProcessTimeout bounds a single ProcessDataPoint call end to end.
	// Zero disables the process-wide bound; callers may still pass a
	// deadline through the context.
	ProcessTimeout time.Duration
}

// River is the pipeline orchestrator. Safe for concurrent use.
type River struct {
	scorer    Scorer
	gate      *gate.Gate
	admission *admission.Controller
	breaker   *breaker.Breaker
	annotator annotate.Annotator
	sink      sink.Sink
	bus       *event.Bus
	metrics   *metric.Metrics
	health    *health.Monitor
	logger    *slog.Logger
	timeout   time.Duration

	lifecycleMu sync.Mutex
	started     bool
	stopping    bool
	inFlight    sync.WaitGroup
	startTime   time.Time
}

// New creates a river from its collaborators
func New(opts Options) (*River, error) {
	if opts.Scorer == nil || opts.Gate == nil || opts.Admission == nil ||
		opts.Breaker == nil || opts.Sink == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: scorer, gate, admission, breaker, and sink are required", errors.ErrInvalidConfig),
			"River", "New", "validate collaborators")
	}

	annotator := opts.Annotator
	if annotator == nil {
		annotator = annotate.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &River{
		scorer:    opts.Scorer,
		gate:      opts.Gate,
		admission: opts.Admission,
		breaker:   opts.Breaker,
		annotator: annotator,
		sink:      opts.Sink,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		health:    opts.Health,
		logger:    logger,
		timeout:   opts.ProcessTimeout,
	}, nil
}

// Start marks the river as accepting submissions
func (r *River) Start(_ context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.started {
		return errors.ErrAlreadyStarted
	}
	r.started = true
	r.stopping = false
	r.startTime = time.Now()

	r.updateHealth(health.NewHealthy("river", "processing"))
	r.logger.Info("river started")
	return nil
}

// Stop refuses new submissions and waits up to timeout for in-flight
// points to drain.
func (r *River) Stop(timeout time.Duration) error {
	r.lifecycleMu.Lock()
	if !r.started {
		r.lifecycleMu.Unlock()
		return errors.ErrNotStarted
	}
	r.stopping = true
	r.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inFlight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.WrapTransient(errors.ErrTimeout, "River", "Stop", "drain in-flight points")
	}

	r.lifecycleMu.Lock()
	r.started = false
	r.lifecycleMu.Unlock()

	r.updateHealth(health.NewUnhealthy("river", "stopped"))
	r.logger.Info("river stopped", "drained", err == nil)
	return err
}

// ProcessDataPoint runs a single point through the full pipeline.
//
// Returns (fp, nil) when the point was admitted and stored, (nil, nil)
// when it scored below threshold, and (nil, err) with a reason-coded
// error otherwise. The admission slot is released on every path.
func (r *River) ProcessDataPoint(ctx context.Context, p point.DataPoint) (*point.FilteredDataPoint, error) {
	r.lifecycleMu.Lock()
	if !r.started || r.stopping {
		r.lifecycleMu.Unlock()
		return nil, errors.ErrShuttingDown
	}
	r.inFlight.Add(1)
	r.lifecycleMu.Unlock()
	defer r.inFlight.Done()

	r.recordReceived(p.Source)

	if err := p.Validate(); err != nil {
		r.rejectPoint(p, errors.ErrInvalidPayload, err.Error())
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	slot, err := r.admission.Acquire(ctx)
	if err != nil {
		if stderrors.Is(err, errors.ErrOverloaded) {
			r.rejectPoint(p, errors.ErrOverloaded, "admission capacity exhausted")
			return nil, errors.ErrOverloaded
		}
		r.rejectPoint(p, errors.ErrTimeout, "timed out waiting for admission slot")
		return nil, errors.WrapTransient(errors.ErrTimeout, "River", "ProcessDataPoint", "acquire admission slot")
	}
	defer slot.Release()

	scoreStart := time.Now()
	vec, err := r.scorer.Score(p)
	r.recordStage(stageScore, time.Since(scoreStart))
	if err != nil {
		r.rejectPoint(p, errors.ErrInvalidPayload, err.Error())
		return nil, err
	}

	combined := r.scorer.Combined(vec)
	r.recordScore(combined)

	admitted := r.gate.Decide(combined) == gate.Admit
	r.publish(event.NewData(p, vec, combined, admitted))

	if !admitted {
		r.recordRejected(p.Source, "below_threshold")
		return nil, nil
	}

	fp := point.FilteredDataPoint{
		DataPoint:  p,
		Coherence:  vec,
		Score:      combined,
		FilteredAt: time.Now().UTC(),
	}

	annotateStart := time.Now()
	enriched, err := r.annotator.Annotate(ctx, fp)
	r.recordStage(stageAnnotate, time.Since(annotateStart))
	if err != nil {
		// Annotation is advisory; the admitted point flows on.
		r.logger.Warn("annotation failed, continuing unannotated",
			"point_id", p.ID, "error", err)
	} else {
		fp = enriched
	}

	if err := r.dispatch(ctx, &fp); err != nil {
		return nil, err
	}

	r.recordAdmitted(p.Source)
	r.publish(event.NewFiltered(fp))
	return &fp, nil
}

// dispatch stores the point through the circuit breaker
func (r *River) dispatch(ctx context.Context, fp *point.FilteredDataPoint) error {
	if err := r.breaker.Allow(); err != nil {
		// Not a processing failure: the caller may retry after cooldown.
		r.rejectPoint(fp.DataPoint, errors.ErrCircuitOpen, "circuit breaker open")
		return errors.ErrCircuitOpen
	}

	start := time.Now()
	storeErr := r.sink.Store(ctx, *fp)
	latency := time.Since(start)
	r.recordStage(stageDispatch, latency)
	r.breaker.Record(latency, storeErr)

	if storeErr == nil {
		return nil
	}

	if ctxErr := ctx.Err(); stderrors.Is(ctxErr, context.DeadlineExceeded) {
		err := errors.WrapTransient(
			fmt.Errorf("%w: sink dispatch exceeded deadline", errors.ErrTimeout),
			"River", "dispatch", "store point")
		r.rejectPoint(fp.DataPoint, errors.ErrTimeout, "sink dispatch timed out")
		return err
	}

	err := errors.WrapTransient(
		fmt.Errorf("%w: %v", errors.ErrSinkFailure, storeErr),
		"River", "dispatch", "store point")
	r.rejectPoint(fp.DataPoint, errors.ErrSinkFailure, storeErr.Error())
	return err
}

// Result pairs a processed point with its outcome
type Result struct {
	Point *point.FilteredDataPoint
	Err   error
}

// ProcessBatch runs a batch through the pipeline in order. Results are
// positionally aligned with the input; one point's failure never affects
// its neighbors.
func (r *River) ProcessBatch(ctx context.Context, points []point.DataPoint) []Result {
	results := make([]Result, len(points))
	for i, p := range points {
		fp, err := r.ProcessDataPoint(ctx, p)
		results[i] = Result{Point: fp, Err: err}
	}
	return results
}

// Health reports the river's aggregate health
func (r *River) Health() health.Status {
	r.lifecycleMu.Lock()
	started := r.started
	r.lifecycleMu.Unlock()

	if !started {
		return health.NewUnhealthy("river", "not started")
	}

	if r.breaker.State() == breaker.StateOpen {
		return health.NewDegraded("river", "circuit breaker open")
	}

	status := health.NewHealthy("river", "processing")
	status.Metrics = &health.Metrics{
		Uptime: time.Since(r.startTime),
	}
	return status
}

// InFlight returns the number of held admission slots
func (r *River) InFlight() int {
	return r.admission.InFlight()
}

func (r *River) rejectPoint(p point.DataPoint, sentinel error, message string) {
	reason := errors.Reason(sentinel)
	r.recordRejected(p.Source, reason)
	r.publish(event.NewError(p.ID, p.Source, reason, message))
}

func (r *River) publish(e event.Event) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(e)
}

func (r *River) updateHealth(s health.Status) {
	if r.health == nil {
		return
	}
	r.health.Update("river", s)
}

func (r *River) recordReceived(source string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordReceived(source)
	r.metrics.InFlight.Set(float64(r.admission.InFlight()))
}

func (r *River) recordAdmitted(source string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordAdmitted(source)
}

func (r *River) recordRejected(source, reason string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordRejected(source, reason)
}

func (r *River) recordStage(stage string, d time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordStageDuration(stage, d)
}

func (r *River) recordScore(score float64) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordScore(score)
}
