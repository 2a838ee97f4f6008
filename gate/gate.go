// Package gate implements the river's admission decision: a point is
// admitted iff its combined coherence score meets the sensitivity
// threshold. The boundary is inclusive by contract: a score exactly equal
// to the threshold admits.
package gate

import (
	"fmt"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/metric"
)

// Decision is the outcome of a gate evaluation
type Decision int

// Gate decisions
const (
	Reject Decision = iota
	Admit
)

// String returns the string representation of a Decision
func (d Decision) String() string {
	if d == Admit {
		return "admit"
	}
	return "reject"
}

// Decide applies the inclusive-threshold rule. Pure and safe for
// unlimited concurrent invocation.
func Decide(combinedScore, threshold float64) Decision {
	if combinedScore >= threshold {
		return Admit
	}
	return Reject
}

// Gate binds a sensitivity threshold from the pipeline configuration.
// The threshold is read-only after construction.
type Gate struct {
	threshold float64
	metrics   *gateMetrics
}

// New creates a gate with the given sensitivity threshold in [0,1].
// The registry may be nil; the gate then runs without metrics.
func New(threshold float64, registry *metric.Registry) (*Gate, error) {
	if threshold < 0 || threshold > 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: threshold %v outside [0,1]", errors.ErrInvalidConfig, threshold),
			"Gate", "New", "validate threshold")
	}

	metrics, err := newGateMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Gate{threshold: threshold, metrics: metrics}, nil
}

// Threshold returns the configured sensitivity threshold
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// Decide evaluates a combined score against the gate's threshold and
// records the outcome.
func (g *Gate) Decide(combinedScore float64) Decision {
	decision := Decide(combinedScore, g.threshold)
	g.metrics.recordDecision(decision)
	return decision
}
