package river

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GreatPyreneseDad/ECNE-sub001/admission"
	"github.com/GreatPyreneseDad/ECNE-sub001/annotate"
	"github.com/GreatPyreneseDad/ECNE-sub001/breaker"
	"github.com/GreatPyreneseDad/ECNE-sub001/coherence"
	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/event"
	"github.com/GreatPyreneseDad/ECNE-sub001/gate"
	"github.com/GreatPyreneseDad/ECNE-sub001/point"
	"github.com/GreatPyreneseDad/ECNE-sub001/sink"
)

// fixedScorer returns the same vector for every point.
type fixedScorer struct {
	vec     point.Vector
	weights point.Weights
	err     error
}

func (f *fixedScorer) Score(point.DataPoint) (point.Vector, error) {
	if f.err != nil {
		return point.Vector{}, f.err
	}
	return f.vec, nil
}

func (f *fixedScorer) Combined(v point.Vector) float64 {
	return v.Combine(f.weights)
}

// faultSink fails on demand and counts stores.
type faultSink struct {
	mu     sync.Mutex
	fail   bool
	delay  time.Duration
	stores int
}

func (s *faultSink) Name() string { return "fault" }

func (s *faultSink) Store(ctx context.Context, _ point.FilteredDataPoint) error {
	s.mu.Lock()
	fail := s.fail
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return fmt.Errorf("sink unavailable")
	}

	s.mu.Lock()
	s.stores++
	s.mu.Unlock()
	return nil
}

func (s *faultSink) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *faultSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stores
}

type riverDeps struct {
	scorer  Scorer
	breaker *breaker.Breaker
	sink    sink.Sink
	bus     *event.Bus
	slots   int
	timeout time.Duration
}

func buildRiver(t *testing.T, deps riverDeps) *River {
	t.Helper()

	if deps.scorer == nil {
		deps.scorer = &fixedScorer{
			vec:     point.Vector{Psi: 0.9, Rho: 0.9, Q: 0.9, F: 0.9},
			weights: point.DefaultWeights(),
		}
	}
	if deps.breaker == nil {
		b, err := breaker.New(breaker.Config{
			WindowSize:         10,
			MinSamples:         3,
			ErrorRateThreshold: 0.5,
			LatencyThreshold:   0,
			Cooldown:           50 * time.Millisecond,
			HalfOpenSuccesses:  2,
		})
		require.NoError(t, err)
		deps.breaker = b
	}
	if deps.sink == nil {
		s, err := sink.NewMemorySink(2048)
		require.NoError(t, err)
		deps.sink = s
	}
	if deps.slots == 0 {
		deps.slots = 16
	}

	g, err := gate.New(0.5, nil)
	require.NoError(t, err)

	ctrl, err := admission.NewController(deps.slots, admission.PolicyShed, 0, nil)
	require.NoError(t, err)

	r, err := New(Options{
		Scorer:         deps.scorer,
		Gate:           g,
		Admission:      ctrl,
		Breaker:        deps.breaker,
		Sink:           deps.sink,
		Bus:            deps.bus,
		ProcessTimeout: deps.timeout,
	})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Stop(time.Second) })

	return r
}

func TestProcessAdmitsHighCoherencePoint(t *testing.T) {
	mem, err := sink.NewMemorySink(16)
	require.NoError(t, err)
	r := buildRiver(t, riverDeps{sink: mem})

	p := point.New("sensor-a", map[string]any{"reading": 42.0})
	fp, err := r.ProcessDataPoint(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, fp)

	// Equal weights over 0.9 on every dimension.
	assert.InDelta(t, 0.9, fp.Score, 1e-9)
	assert.Equal(t, p.ID, fp.ID)
	assert.Equal(t, int64(1), mem.Total())
}

func TestProcessFiltersLowCoherencePoint(t *testing.T) {
	mem, err := sink.NewMemorySink(16)
	require.NoError(t, err)
	r := buildRiver(t, riverDeps{
		scorer: &fixedScorer{
			vec:     point.Vector{Psi: 0.1, Rho: 0.1, Q: 0.1, F: 0.1},
			weights: point.DefaultWeights(),
		},
		sink: mem,
	})

	fp, err := r.ProcessDataPoint(context.Background(), point.New("sensor-a", map[string]any{"reading": 1.0}))
	require.NoError(t, err)
	assert.Nil(t, fp)
	assert.Equal(t, int64(0), mem.Total())
	assert.Equal(t, 0, r.InFlight())
}

func TestProcessRejectsInvalidPayload(t *testing.T) {
	r := buildRiver(t, riverDeps{})

	bad := point.DataPoint{ID: "", Source: "sensor-a"}
	_, err := r.ProcessDataPoint(context.Background(), bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidPayload)
}

func TestProcessOverloadedWhenSlotsExhausted(t *testing.T) {
	slow := &faultSink{delay: 200 * time.Millisecond}
	r := buildRiver(t, riverDeps{sink: slow, slots: 2})

	ctx := context.Background()
	var wg sync.WaitGroup
	var overloaded atomic.Int64
	var stored atomic.Int64

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fp, err := r.ProcessDataPoint(ctx, point.New("sensor-a", map[string]any{"reading": 1.0}))
			switch {
			case err == nil && fp != nil:
				stored.Add(1)
			case stderrors.Is(err, errors.ErrOverloaded):
				overloaded.Add(1)
			}
		}()
	}
	wg.Wait()

	// Exactly one terminal outcome per point, nothing silently lost.
	assert.Equal(t, int64(6), stored.Load()+overloaded.Load())
	assert.Positive(t, overloaded.Load())
	assert.Equal(t, 0, r.InFlight())
}

func TestCircuitOpensAndFailsFast(t *testing.T) {
	fs := &faultSink{fail: true}
	r := buildRiver(t, riverDeps{sink: fs})

	ctx := context.Background()

	// Drive enough sink failures to trip the breaker (3 samples, >50%).
	sawSinkFailure := false
	for i := 0; i < 5; i++ {
		_, err := r.ProcessDataPoint(ctx, point.New("sensor-a", map[string]any{"reading": 1.0}))
		if err != nil && stderrors.Is(err, errors.ErrSinkFailure) {
			sawSinkFailure = true
		}
	}
	require.True(t, sawSinkFailure)

	// Breaker is now open: fail fast without touching the sink.
	before := fs.count()
	_, err := r.ProcessDataPoint(ctx, point.New("sensor-a", map[string]any{"reading": 1.0}))
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.Equal(t, before, fs.count())
}

func TestCircuitRecoversAfterCooldown(t *testing.T) {
	fs := &faultSink{fail: true}
	r := buildRiver(t, riverDeps{sink: fs})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = r.ProcessDataPoint(ctx, point.New("sensor-a", map[string]any{"reading": 1.0}))
	}

	fs.setFail(false)
	time.Sleep(80 * time.Millisecond) // past the 50ms cooldown

	// Trial calls succeed; after 2 consecutive successes the breaker closes.
	var succeeded int
	for i := 0; i < 4; i++ {
		fp, err := r.ProcessDataPoint(ctx, point.New("sensor-a", map[string]any{"reading": 1.0}))
		if err == nil && fp != nil {
			succeeded++
		}
	}
	assert.Positive(t, succeeded)

	fp, err := r.ProcessDataPoint(ctx, point.New("sensor-a", map[string]any{"reading": 1.0}))
	require.NoError(t, err)
	assert.NotNil(t, fp)
}

func TestProcessTimeoutReleasesSlot(t *testing.T) {
	slow := &faultSink{delay: time.Second}
	r := buildRiver(t, riverDeps{sink: slow, slots: 1, timeout: 50 * time.Millisecond})

	_, err := r.ProcessDataPoint(context.Background(), point.New("sensor-a", map[string]any{"reading": 1.0}))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTimeout)

	// The slot must be free again for the next submission.
	assert.Equal(t, 0, r.InFlight())
}

func TestEventsEmittedAndNeverBlock(t *testing.T) {
	bus, err := event.NewBus(nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	// A tiny, never-drained subscriber must not stall processing.
	stuck, err := bus.Subscribe("stuck", 1)
	require.NoError(t, err)

	watcher, err := bus.Subscribe("watcher", 256)
	require.NoError(t, err)

	r := buildRiver(t, riverDeps{bus: bus})

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := r.ProcessDataPoint(ctx, point.New("sensor-a", map[string]any{"reading": float64(i)}))
		require.NoError(t, err)
	}

	// data + filtered per admitted point.
	var data, filtered int
	for len(watcher.C()) > 0 {
		e := <-watcher.C()
		switch e.Type {
		case event.TypeData:
			data++
		case event.TypeFiltered:
			filtered++
		}
	}
	assert.Equal(t, 20, data)
	assert.Equal(t, 20, filtered)
	assert.Positive(t, stuck.Drops())
}

func TestCircuitOpenRejectionEmitsErrorEvent(t *testing.T) {
	bus, err := event.NewBus(nil, nil)
	require.NoError(t, err)
	defer bus.Close()

	watcher, err := bus.Subscribe("watcher", 256)
	require.NoError(t, err)

	// Long cooldown keeps the breaker open for the whole test.
	b, err := breaker.New(breaker.Config{
		WindowSize:         10,
		MinSamples:         3,
		ErrorRateThreshold: 0.5,
		Cooldown:           time.Minute,
		HalfOpenSuccesses:  2,
	})
	require.NoError(t, err)

	fs := &faultSink{fail: true}
	r := buildRiver(t, riverDeps{sink: fs, bus: bus, breaker: b})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = r.ProcessDataPoint(ctx, point.New("sensor-a", map[string]any{"reading": 1.0}))
	}

	// Discard events from the trip phase.
	for len(watcher.C()) > 0 {
		<-watcher.C()
	}

	p := point.New("sensor-a", map[string]any{"reading": 1.0})
	_, err = r.ProcessDataPoint(ctx, p)
	require.ErrorIs(t, err, errors.ErrCircuitOpen)

	// The rejection surfaces on the bus like every other reason.
	var sawCircuitOpen bool
	for len(watcher.C()) > 0 {
		e := <-watcher.C()
		if e.Type != event.TypeError {
			continue
		}
		payload, ok := e.Payload.(event.ErrorPayload)
		require.True(t, ok)
		if payload.PointID == p.ID {
			assert.Equal(t, "circuit_open", payload.Reason)
			sawCircuitOpen = true
		}
	}
	assert.True(t, sawCircuitOpen)
}

func TestAnnotatorEnrichesAdmittedPoints(t *testing.T) {
	pred, err := annotate.NewPredictor(0.5)
	require.NoError(t, err)

	mem, errSink := sink.NewMemorySink(16)
	require.NoError(t, errSink)

	g, err := gate.New(0.5, nil)
	require.NoError(t, err)
	ctrl, err := admission.NewController(4, admission.PolicyShed, 0, nil)
	require.NoError(t, err)
	b, err := breaker.New(breaker.DefaultConfig())
	require.NoError(t, err)

	r, err := New(Options{
		Scorer: &fixedScorer{
			vec:     point.Vector{Psi: 0.9, Rho: 0.9, Q: 0.9, F: 0.9},
			weights: point.DefaultWeights(),
		},
		Gate:      g,
		Admission: ctrl,
		Breaker:   b,
		Annotator: annotate.NewChain(nil, pred),
		Sink:      mem,
	})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop(time.Second) }()

	fp, err := r.ProcessDataPoint(context.Background(), point.New("sensor-a", map[string]any{"reading": 1.0}))
	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Contains(t, fp.Annotations, annotate.AnnotationTrend)
}

func TestProcessBatchPreservesOrder(t *testing.T) {
	r := buildRiver(t, riverDeps{})

	points := make([]point.DataPoint, 5)
	for i := range points {
		points[i] = point.New("sensor-a", map[string]any{"reading": float64(i)})
	}

	results := r.ProcessBatch(context.Background(), points)
	require.Len(t, results, 5)
	for i, res := range results {
		require.NoError(t, res.Err)
		require.NotNil(t, res.Point)
		assert.Equal(t, points[i].ID, res.Point.ID)
	}
}

func TestStopRefusesNewSubmissions(t *testing.T) {
	mem, err := sink.NewMemorySink(16)
	require.NoError(t, err)

	g, err := gate.New(0.5, nil)
	require.NoError(t, err)
	ctrl, err := admission.NewController(4, admission.PolicyShed, 0, nil)
	require.NoError(t, err)
	b, err := breaker.New(breaker.DefaultConfig())
	require.NoError(t, err)

	r, err := New(Options{
		Scorer: &fixedScorer{
			vec:     point.Vector{Psi: 0.9, Rho: 0.9, Q: 0.9, F: 0.9},
			weights: point.DefaultWeights(),
		},
		Gate:      g,
		Admission: ctrl,
		Breaker:   b,
		Sink:      mem,
	})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop(time.Second))

	_, err = r.ProcessDataPoint(context.Background(), point.New("sensor-a", map[string]any{"reading": 1.0}))
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestSustainedLoadWithinLatencyBound(t *testing.T) {
	mem, err := sink.NewMemorySink(4096)
	require.NoError(t, err)
	r := buildRiver(t, riverDeps{sink: mem, slots: 64})

	// 10 points every 100ms is 100 points per second.
	const batchSize = 10
	interval := 100 * time.Millisecond
	duration := 10 * time.Second
	if testing.Short() {
		duration = 2 * time.Second
	}

	ctx := context.Background()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.Now().Add(duration)

	var batches int
	var totalBatchTime time.Duration
	for time.Now().Before(deadline) {
		<-ticker.C

		points := make([]point.DataPoint, batchSize)
		for i := range points {
			points[i] = point.New("sensor-a", map[string]any{"reading": float64(i)})
		}

		start := time.Now()
		results := r.ProcessBatch(ctx, points)
		totalBatchTime += time.Since(start)
		batches++

		for _, res := range results {
			require.NoError(t, res.Err)
			require.NotNil(t, res.Point)
		}
	}

	require.Positive(t, batches)
	average := totalBatchTime / time.Duration(batches)
	assert.Less(t, average, time.Second)
	assert.Equal(t, int64(batches*batchSize), mem.Total())
	assert.Equal(t, 0, r.InFlight())
}

func TestThroughputWithBandedCoherence(t *testing.T) {
	gen := coherence.NewGenerator(42)
	scorer := coherence.NewBandedScorer(gen, point.DefaultWeights())

	mem, err := sink.NewMemorySink(2048)
	require.NoError(t, err)

	g, err := gate.New(0.4, nil)
	require.NoError(t, err)
	ctrl, err := admission.NewController(64, admission.PolicyQueue, 5*time.Second, nil)
	require.NoError(t, err)
	b, err := breaker.New(breaker.DefaultConfig())
	require.NoError(t, err)

	r, err := New(Options{
		Scorer:    scorer,
		Gate:      g,
		Admission: ctrl,
		Breaker:   b,
		Sink:      mem,
	})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop(5 * time.Second) }()

	const n = 1000
	points := gen.Points(n)
	for _, p := range points {
		scorer.Assign(p)
	}

	start := time.Now()
	var admitted, errs atomic.Int64
	var wg sync.WaitGroup
	for _, p := range points {
		wg.Add(1)
		go func(dp point.DataPoint) {
			defer wg.Done()
			fp, err := r.ProcessDataPoint(context.Background(), dp)
			if err != nil {
				errs.Add(1)
				return
			}
			if fp != nil {
				admitted.Add(1)
			}
		}(p)
	}
	wg.Wait()
	elapsed := time.Since(start)

	require.Equal(t, int64(0), errs.Load())
	rate := float64(admitted.Load()) / n
	// 30% medium + 10% high bands clear a 0.4 threshold, with band
	// boundaries allowing some spread.
	assert.Greater(t, rate, 0.10)
	assert.LessOrEqual(t, rate, 1.0)
	assert.Less(t, elapsed, 30*time.Second)
	assert.Equal(t, int64(admitted.Load()), mem.Total())
}
