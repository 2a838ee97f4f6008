package annotate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

func makeFiltered(source string, score float64) point.FilteredDataPoint {
	p := point.New(source, map[string]any{"value": score})
	return point.FilteredDataPoint{
		DataPoint:  p,
		Coherence:  point.Vector{Psi: score, Rho: score, Q: score, F: score},
		Score:      score,
		FilteredAt: time.Now().UTC(),
	}
}

type staticAnnotator struct {
	name string
	key  string
	err  error
}

func (s *staticAnnotator) Name() string { return s.name }

func (s *staticAnnotator) Annotate(_ context.Context, fp point.FilteredDataPoint) (point.FilteredDataPoint, error) {
	if s.err != nil {
		return fp, s.err
	}
	return fp.WithAnnotation(s.key, true), nil
}

type slowAnnotator struct {
	delay time.Duration
}

func (s *slowAnnotator) Name() string { return "slow" }

func (s *slowAnnotator) Annotate(ctx context.Context, fp point.FilteredDataPoint) (point.FilteredDataPoint, error) {
	select {
	case <-time.After(s.delay):
		return fp.WithAnnotation("slow", true), nil
	case <-ctx.Done():
		return fp, ctx.Err()
	}
}

func TestNopReturnsPointUnchanged(t *testing.T) {
	fp := makeFiltered("sensor-a", 0.8)

	out, err := Nop{}.Annotate(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, fp, out)
}

func TestChainAppliesInOrder(t *testing.T) {
	chain := NewChain(nil,
		&staticAnnotator{name: "first", key: "first"},
		&staticAnnotator{name: "second", key: "second"},
	)

	out, err := chain.Annotate(context.Background(), makeFiltered("sensor-a", 0.8))
	require.NoError(t, err)
	assert.Equal(t, true, out.Annotations["first"])
	assert.Equal(t, true, out.Annotations["second"])
}

func TestChainSkipsFailedStage(t *testing.T) {
	chain := NewChain(nil,
		&staticAnnotator{name: "broken", err: fmt.Errorf("model unavailable")},
		&staticAnnotator{name: "second", key: "second"},
	)

	out, err := chain.Annotate(context.Background(), makeFiltered("sensor-a", 0.8))
	require.NoError(t, err)
	assert.NotContains(t, out.Annotations, "broken")
	assert.Equal(t, true, out.Annotations["second"])
}

func TestWithTimeoutPassthroughOnExpiry(t *testing.T) {
	wrapped := WithTimeout(&slowAnnotator{delay: time.Second}, 20*time.Millisecond, nil)

	fp := makeFiltered("sensor-a", 0.8)
	out, err := wrapped.Annotate(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, fp, out)
}

func TestWithTimeoutFastPath(t *testing.T) {
	wrapped := WithTimeout(&slowAnnotator{delay: time.Millisecond}, time.Second, nil)

	out, err := wrapped.Annotate(context.Background(), makeFiltered("sensor-a", 0.8))
	require.NoError(t, err)
	assert.Equal(t, true, out.Annotations["slow"])
}

func TestAnomalyDetectorFlagsOutlier(t *testing.T) {
	d, err := NewAnomalyDetector(50, 10, 3)
	require.NoError(t, err)

	ctx := context.Background()

	// Establish a baseline around 0.5 with mild jitter.
	for i := 0; i < 20; i++ {
		score := 0.5 + float64(i%5)*0.01
		out, err := d.Annotate(ctx, makeFiltered("sensor-a", score))
		require.NoError(t, err)
		assert.NotContains(t, out.Annotations, AnnotationAnomaly)
	}

	out, err := d.Annotate(ctx, makeFiltered("sensor-a", 0.99))
	require.NoError(t, err)
	require.Contains(t, out.Annotations, AnnotationAnomaly)

	detail, ok := out.Annotations[AnnotationAnomaly].(map[string]any)
	require.True(t, ok)
	assert.Greater(t, detail["zscore"].(float64), 3.0)
}

func TestAnomalyDetectorBaselinesPerSource(t *testing.T) {
	d, err := NewAnomalyDetector(50, 10, 3)
	require.NoError(t, err)

	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := d.Annotate(ctx, makeFiltered("sensor-a", 0.5+float64(i%5)*0.01))
		require.NoError(t, err)
	}

	// A different source has no baseline yet, so nothing is flagged.
	out, err := d.Annotate(ctx, makeFiltered("sensor-b", 0.99))
	require.NoError(t, err)
	assert.NotContains(t, out.Annotations, AnnotationAnomaly)
}

func TestAnomalyDetectorValidation(t *testing.T) {
	_, err := NewAnomalyDetector(0, 2, 3)
	assert.Error(t, err)

	_, err = NewAnomalyDetector(10, 1, 3)
	assert.Error(t, err)

	_, err = NewAnomalyDetector(10, 11, 3)
	assert.Error(t, err)

	_, err = NewAnomalyDetector(10, 5, 0)
	assert.Error(t, err)
}

func TestPredictorTracksTrend(t *testing.T) {
	p, err := NewPredictor(0.5)
	require.NoError(t, err)

	ctx := context.Background()

	out, err := p.Annotate(ctx, makeFiltered("sensor-a", 0.5))
	require.NoError(t, err)
	detail := out.Annotations[AnnotationTrend].(map[string]any)
	assert.Equal(t, "new", detail["direction"])
	assert.Equal(t, 0.5, detail["predicted"])

	out, err = p.Annotate(ctx, makeFiltered("sensor-a", 0.9))
	require.NoError(t, err)
	detail = out.Annotations[AnnotationTrend].(map[string]any)
	assert.Equal(t, "rising", detail["direction"])
	assert.InDelta(t, 0.7, detail["predicted"].(float64), 1e-9)

	out, err = p.Annotate(ctx, makeFiltered("sensor-a", 0.2))
	require.NoError(t, err)
	detail = out.Annotations[AnnotationTrend].(map[string]any)
	assert.Equal(t, "falling", detail["direction"])
}

func TestPredictorValidation(t *testing.T) {
	_, err := NewPredictor(0)
	assert.Error(t, err)

	_, err = NewPredictor(1.5)
	assert.Error(t, err)

	p, err := NewPredictor(1)
	require.NoError(t, err)
	assert.Equal(t, "trend", p.Name())
}
