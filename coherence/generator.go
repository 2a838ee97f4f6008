package coherence

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

// Band identifies a coherence band for generated test data
type Band int

// Coherence bands for the documented 60/30/10 test distribution
const (
	BandLow Band = iota
	BandMedium
	BandHigh
)

// Band value ranges: low [0.1,0.4), medium [0.4,0.7), high [0.7,1.0)
var bandRanges = map[Band][2]float64{
	BandLow:    {0.1, 0.4},
	BandMedium: {0.4, 0.7},
	BandHigh:   {0.7, 1.0},
}

// Generator produces synthetic data points and banded coherence vectors
// for load and throughput testing. The banded distribution (60% low,
// 30% medium, 10% high) is a test-data contract, not a property of the
// production scorer.
type Generator struct {
	rng     *rand.Rand
	sources []string
}

// NewGenerator creates a generator with a fixed seed for reproducible runs
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:     rand.New(rand.NewSource(seed)),
		sources: []string{"api-alpha", "api-beta", "api-gamma", "feed-delta"},
	}
}

// Point produces a single synthetic data point
func (g *Generator) Point() point.DataPoint {
	source := g.sources[g.rng.Intn(len(g.sources))]
	return point.DataPoint{
		ID:        uuid.NewString(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		Content: map[string]any{
			"sequence": g.rng.Int63n(1 << 30),
			"value":    g.rng.Float64() * 100,
			"label":    fmt.Sprintf("sample-%d", g.rng.Intn(1000)),
		},
		Metadata: point.Metadata{
			ContentType: "application/json",
			Version:     "1",
		},
	}
}

// Points produces n synthetic data points
func (g *Generator) Points(n int) []point.DataPoint {
	points := make([]point.DataPoint, n)
	for i := range points {
		points[i] = g.Point()
	}
	return points
}

// band draws a band with the documented 60/30/10 distribution
func (g *Generator) band() Band {
	roll := g.rng.Float64()
	switch {
	case roll < 0.6:
		return BandLow
	case roll < 0.9:
		return BandMedium
	default:
		return BandHigh
	}
}

// Vector draws a coherence vector with all dimensions in a single band
// chosen per the 60/30/10 distribution.
func (g *Generator) Vector() point.Vector {
	r := bandRanges[g.band()]
	width := r[1] - r[0]
	return point.Vector{
		Psi: r[0] + g.rng.Float64()*width,
		Rho: r[0] + g.rng.Float64()*width,
		Q:   r[0] + g.rng.Float64()*width,
		F:   r[0] + g.rng.Float64()*width,
	}
}

// BandedScorer assigns banded vectors to points, keyed by point ID so
// repeated scoring of the same point is deterministic. It implements the
// same contract as Scorer and is intended for throughput tests.
type BandedScorer struct {
	weights point.Weights
	vectors map[string]point.Vector
	gen     *Generator
}

// NewBandedScorer creates a banded scorer over the given generator
func NewBandedScorer(gen *Generator, weights point.Weights) *BandedScorer {
	return &BandedScorer{
		weights: weights.Normalized(),
		vectors: make(map[string]point.Vector),
		gen:     gen,
	}
}

// Assign pre-assigns a banded vector to a point and returns it. Must be
// called before concurrent scoring begins; the map is not locked.
func (b *BandedScorer) Assign(p point.DataPoint) point.Vector {
	v, ok := b.vectors[p.ID]
	if !ok {
		v = b.gen.Vector()
		b.vectors[p.ID] = v
	}
	return v
}

// Score returns the pre-assigned vector for the point
func (b *BandedScorer) Score(p point.DataPoint) (point.Vector, error) {
	v, ok := b.vectors[p.ID]
	if !ok {
		return point.Vector{}, fmt.Errorf("no vector assigned for point %s", p.ID)
	}
	return v, nil
}

// Combined returns the weighted sum of the vector's dimensions
func (b *BandedScorer) Combined(v point.Vector) float64 {
	return v.Combine(b.weights)
}
