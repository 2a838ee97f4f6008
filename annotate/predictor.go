package annotate

import (
	"context"
	"fmt"
	"sync"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

// AnnotationTrend is the annotation key written by the predictor
const AnnotationTrend = "trend"

// trendEpsilon separates a real move from float noise
const trendEpsilon = 0.01

// Predictor tracks an exponentially weighted moving average of the
// combined score per source and annotates each point with the smoothed
// forecast and its direction relative to the incoming score.
type Predictor struct {
	alpha float64

	mu       sync.Mutex
	bySource map[string]float64
}

// NewPredictor creates a predictor with smoothing factor alpha in (0,1]
func NewPredictor(alpha float64) (*Predictor, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: alpha must be in (0,1], got %v", errors.ErrInvalidConfig, alpha),
			"Predictor", "NewPredictor", "validate alpha")
	}
	return &Predictor{alpha: alpha, bySource: make(map[string]float64)}, nil
}

// Name returns the annotator name
func (p *Predictor) Name() string { return "trend" }

// Annotate updates the source's moving average with the point's score
// and attaches the forecast.
func (p *Predictor) Annotate(_ context.Context, fp point.FilteredDataPoint) (point.FilteredDataPoint, error) {
	p.mu.Lock()
	prev, seen := p.bySource[fp.Source]
	var predicted float64
	if seen {
		predicted = p.alpha*fp.Score + (1-p.alpha)*prev
	} else {
		predicted = fp.Score
	}
	p.bySource[fp.Source] = predicted
	p.mu.Unlock()

	direction := "stable"
	switch {
	case !seen:
		direction = "new"
	case fp.Score-prev > trendEpsilon:
		direction = "rising"
	case prev-fp.Score > trendEpsilon:
		direction = "falling"
	}

	return fp.WithAnnotation(AnnotationTrend, map[string]any{
		"predicted": predicted,
		"direction": direction,
	}), nil
}
