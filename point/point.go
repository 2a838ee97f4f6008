// Package point defines the data model flowing through the river:
// raw data points from collectors, the coherence vector derived for each
// point, and the filtered point handed to the sink after admission.
package point

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
)

// Metadata carries processing annotations attached by collectors
type Metadata struct {
	ProcessedAt time.Time `json:"processed_at,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Version     string    `json:"version,omitempty"`
}

// DataPoint is a single unit of data from an external source.
// Immutable once created; collectors are responsible for deduplication
// and source-specific parsing.
type DataPoint struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Content   map[string]any `json:"content"`
	Metadata  Metadata       `json:"metadata,omitempty"`
}

// New creates a DataPoint with a generated identifier and the current
// timestamp. Used by ingest when a collector did not supply an ID.
func New(source string, content map[string]any) DataPoint {
	return DataPoint{
		ID:        uuid.NewString(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		Content:   content,
	}
}

// Validate checks the structural invariants of a DataPoint. A failure
// is an ErrInvalidPayload: the point is rejected before scoring.
func (p DataPoint) Validate() error {
	if p.ID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: missing id", errors.ErrInvalidPayload),
			"DataPoint", "Validate", "check id")
	}
	if p.Source == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: missing source", errors.ErrInvalidPayload),
			"DataPoint", "Validate", "check source")
	}
	if p.Timestamp.IsZero() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: missing timestamp", errors.ErrInvalidPayload),
			"DataPoint", "Validate", "check timestamp")
	}
	if p.Content == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: missing content", errors.ErrInvalidPayload),
			"DataPoint", "Validate", "check content")
	}
	return nil
}

// Vector holds the four coherence dimensions, each in [0,1].
// Derived once per point and never mutated afterwards.
type Vector struct {
	Psi float64 `json:"psi"` // internal consistency
	Rho float64 `json:"rho"` // relational density
	Q   float64 `json:"q"`   // signal quality
	F   float64 `json:"f"`   // source fidelity
}

// Weights holds the per-dimension weights used to combine a Vector into
// a single score. Valid weights are non-negative and sum to 1.
type Weights struct {
	Psi float64 `json:"psi"`
	Rho float64 `json:"rho"`
	Q   float64 `json:"q"`
	F   float64 `json:"f"`
}

// Combine computes the weighted sum of the vector's dimensions
func (v Vector) Combine(w Weights) float64 {
	return v.Psi*w.Psi + v.Rho*w.Rho + v.Q*w.Q + v.F*w.F
}

// FilteredDataPoint is a DataPoint that cleared the filter gate, carrying
// its coherence vector and combined score. Created only on admission;
// owned by the orchestrator until handed to the sink.
type FilteredDataPoint struct {
	DataPoint   `json:"data_point"`
	Coherence   Vector         `json:"coherence"`
	Score       float64        `json:"score"`
	FilteredAt  time.Time      `json:"filtered_at"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// WithAnnotation returns a copy of the filtered point with the given
// annotation attached. The receiver is not modified; annotators must
// not mutate admitted points in place.
func (fp FilteredDataPoint) WithAnnotation(key string, value any) FilteredDataPoint {
	annotations := make(map[string]any, len(fp.Annotations)+1)
	for k, v := range fp.Annotations {
		annotations[k] = v
	}
	annotations[key] = value
	fp.Annotations = annotations
	return fp
}
