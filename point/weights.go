package point

import (
	"fmt"
	"math"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
)

// WeightEpsilon is the tolerance used when checking that weights sum to 1
const WeightEpsilon = 1e-6

// DefaultWeights returns the uniform weight set
func DefaultWeights() Weights {
	return Weights{Psi: 0.25, Rho: 0.25, Q: 0.25, F: 0.25}
}

// Sum returns the total of all four weights
func (w Weights) Sum() float64 {
	return w.Psi + w.Rho + w.Q + w.F
}

// Validate checks that all weights are non-negative and sum to 1 within
// WeightEpsilon.
func (w Weights) Validate() error {
	if w.Psi < 0 || w.Rho < 0 || w.Q < 0 || w.F < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: weights must be non-negative", errors.ErrInvalidConfig),
			"Weights", "Validate", "check sign")
	}
	if math.Abs(w.Sum()-1) > WeightEpsilon {
		return errors.WrapInvalid(
			fmt.Errorf("%w: weights sum to %v, want 1", errors.ErrInvalidConfig, w.Sum()),
			"Weights", "Validate", "check sum")
	}
	return nil
}

// Normalized returns a copy of the weights scaled to sum to 1. A zero
// weight set normalizes to the uniform default.
func (w Weights) Normalized() Weights {
	sum := w.Sum()
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Psi: w.Psi / sum,
		Rho: w.Rho / sum,
		Q:   w.Q / sum,
		F:   w.F / sum,
	}
}
