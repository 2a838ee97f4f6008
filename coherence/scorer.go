// Package coherence computes the four-dimension coherence vector for a
// data point and its weighted combined score.
//
// Scoring is a pure function: identical input and configuration always
// produce the identical vector. Content-derived spread is seeded from the
// point's identity, never from call time or a shared random source.
package coherence

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

// Scorer maps data points to coherence vectors using a fixed weight set.
// Safe for unlimited concurrent use: all state is read-only after
// construction.
type Scorer struct {
	weights point.Weights
}

// NewScorer creates a scorer with validated weights
func NewScorer(weights point.Weights) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Scorer", "NewScorer", "validate weights")
	}
	return &Scorer{weights: weights}, nil
}

// Weights returns the scorer's weight set
func (s *Scorer) Weights() point.Weights {
	return s.weights
}

// Score computes the coherence vector for a point. The point must have
// passed Validate; a nil content map is the only scoring-time failure
// and surfaces as ErrInvalidPayload.
func (s *Scorer) Score(p point.DataPoint) (point.Vector, error) {
	if p.Content == nil {
		return point.Vector{}, errors.WrapInvalid(
			fmt.Errorf("%w: nil content", errors.ErrInvalidPayload),
			"Scorer", "Score", "check content")
	}

	seed := pointSeed(p.ID)

	v := point.Vector{
		Psi: clamp01(psi(p.Content) + spread(seed, 0)),
		Rho: clamp01(rho(p.Content) + spread(seed, 1)),
		Q:   clamp01(quality(p.Content) + spread(seed, 2)),
		F:   clamp01(fidelity(p) + spread(seed, 3)),
	}

	return v, nil
}

// Combined returns the weighted sum of the vector's dimensions.
// For vectors in [0,1]^4 and weights summing to 1 the result is in [0,1].
func (s *Scorer) Combined(v point.Vector) float64 {
	return v.Combine(s.weights)
}

// psi measures internal consistency: the fraction of content fields that
// carry usable (non-nil, non-empty) values.
func psi(content map[string]any) float64 {
	if len(content) == 0 {
		return 0
	}

	usable := 0
	for _, v := range content {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val != "" {
				usable++
			}
		case map[string]any:
			if len(val) > 0 {
				usable++
			}
		case []any:
			if len(val) > 0 {
				usable++
			}
		default:
			usable++
		}
	}

	return float64(usable) / float64(len(content))
}

// rho measures relational density: how richly structured the content is.
// A nominal 12 top-level fields saturates the dimension; nested objects
// and arrays count extra.
func rho(content map[string]any) float64 {
	fields := len(content)
	for _, v := range content {
		switch val := v.(type) {
		case map[string]any:
			fields += len(val)
		case []any:
			fields += len(val) / 2
		}
	}

	return float64(fields) / 12.0
}

// quality measures signal quality: the fraction of numeric values that
// are finite and of string values that are non-empty.
func quality(content map[string]any) float64 {
	if len(content) == 0 {
		return 0
	}

	checked := 0
	good := 0
	for _, v := range content {
		switch val := v.(type) {
		case float64:
			checked++
			if !math.IsNaN(val) && !math.IsInf(val, 0) {
				good++
			}
		case float32:
			checked++
			if !math.IsNaN(float64(val)) && !math.IsInf(float64(val), 0) {
				good++
			}
		case int, int32, int64:
			checked++
			good++
		case string:
			checked++
			if val != "" {
				good++
			}
		}
	}

	if checked == 0 {
		// Content with no scalar signals scores mid-range quality.
		return 0.5
	}
	return float64(good) / float64(checked)
}

// fidelity measures source trust: a stable per-source base in [0.5,0.9)
// plus bonuses for declared content type and schema version.
func fidelity(p point.DataPoint) float64 {
	base := 0.5 + 0.4*unitHash(p.Source)

	if p.Metadata.ContentType != "" {
		base += 0.05
	}
	if p.Metadata.Version != "" {
		base += 0.05
	}

	return base
}

// pointSeed derives the deterministic per-point seed from its identity
func pointSeed(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

// spread produces a small deterministic offset in [0, 0.04) so points
// with identical structure do not collapse onto a single score.
func spread(seed uint64, dim uint64) float64 {
	// splitmix64 step keeps the per-dimension values decorrelated.
	z := seed + (dim+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z ^= z >> 31
	return float64(z%4096) / 4096.0 * 0.04
}

// unitHash maps a string to a stable value in [0,1)
func unitHash(s string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return float64(h.Sum64()%100000) / 100000.0
}

// clamp01 clamps out-of-range dimension values instead of rejecting them
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
