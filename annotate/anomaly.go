package annotate

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

// AnnotationAnomaly is the annotation key written by the anomaly detector
const AnnotationAnomaly = "anomaly"

// rollingStats maintains mean and standard deviation over a fixed-size
// window of observations.
type rollingStats struct {
	window []float64
	next   int
	filled bool
	sum    float64
	sumSq  float64
}

func newRollingStats(size int) *rollingStats {
	return &rollingStats{window: make([]float64, size)}
}

func (r *rollingStats) push(v float64) {
	if r.filled {
		old := r.window[r.next]
		r.sum -= old
		r.sumSq -= old * old
	}
	r.window[r.next] = v
	r.sum += v
	r.sumSq += v * v
	r.next++
	if r.next == len(r.window) {
		r.next = 0
		r.filled = true
	}
}

func (r *rollingStats) count() int {
	if r.filled {
		return len(r.window)
	}
	return r.next
}

func (r *rollingStats) mean() float64 {
	n := r.count()
	if n == 0 {
		return 0
	}
	return r.sum / float64(n)
}

func (r *rollingStats) stddev() float64 {
	n := r.count()
	if n < 2 {
		return 0
	}
	mean := r.mean()
	variance := r.sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// AnomalyDetector flags points whose combined score deviates from the
// rolling per-source baseline by more than zThreshold standard
// deviations. Scores feed the baseline after evaluation, so an anomaly
// is judged against history, not against itself.
type AnomalyDetector struct {
	windowSize int
	minSamples int
	zThreshold float64

	mu       sync.Mutex
	bySource map[string]*rollingStats
}

// NewAnomalyDetector creates a detector. windowSize bounds per-source
// history; minSamples gates detection until the baseline is meaningful.
func NewAnomalyDetector(windowSize, minSamples int, zThreshold float64) (*AnomalyDetector, error) {
	if windowSize <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: window size must be > 0, got %d", errors.ErrInvalidConfig, windowSize),
			"AnomalyDetector", "NewAnomalyDetector", "validate window")
	}
	if minSamples <= 1 || minSamples > windowSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: min samples must be in [2,%d], got %d", errors.ErrInvalidConfig, windowSize, minSamples),
			"AnomalyDetector", "NewAnomalyDetector", "validate min samples")
	}
	if zThreshold <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: z threshold must be > 0, got %v", errors.ErrInvalidConfig, zThreshold),
			"AnomalyDetector", "NewAnomalyDetector", "validate threshold")
	}

	return &AnomalyDetector{
		windowSize: windowSize,
		minSamples: minSamples,
		zThreshold: zThreshold,
		bySource:   make(map[string]*rollingStats),
	}, nil
}

// Name returns the annotator name
func (d *AnomalyDetector) Name() string { return "anomaly" }

// Annotate evaluates the point's combined score against its source
// baseline and attaches an anomaly annotation when it deviates.
func (d *AnomalyDetector) Annotate(_ context.Context, fp point.FilteredDataPoint) (point.FilteredDataPoint, error) {
	d.mu.Lock()
	stats, ok := d.bySource[fp.Source]
	if !ok {
		stats = newRollingStats(d.windowSize)
		d.bySource[fp.Source] = stats
	}

	var annotation map[string]any
	if stats.count() >= d.minSamples {
		mean := stats.mean()
		stddev := stats.stddev()
		if stddev > 0 {
			z := (fp.Score - mean) / stddev
			if math.Abs(z) > d.zThreshold {
				annotation = map[string]any{
					"zscore": z,
					"mean":   mean,
					"stddev": stddev,
				}
			}
		}
	}
	stats.push(fp.Score)
	d.mu.Unlock()

	if annotation == nil {
		return fp, nil
	}
	return fp.WithAnnotation(AnnotationAnomaly, annotation), nil
}
