// Package event carries the river's observable side-channel. Events are
// strictly advisory: emitting one never blocks the pipeline and never
// changes a point's outcome. Slow consumers lose events, counted, rather
// than applying backpressure.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

// Type discriminates event payloads
type Type string

// Event types emitted by the river
const (
	// TypeData fires for every point that completes scoring
	TypeData Type = "data"
	// TypeFiltered fires for every point admitted past the gate
	TypeFiltered Type = "filtered"
	// TypeCircuitOpen fires when the breaker trips open
	TypeCircuitOpen Type = "circuit-open"
	// TypeError fires when a point fails with a terminal error
	TypeError Type = "error"
)

// Event is a single advisory notification
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// DataPayload accompanies TypeData
type DataPayload struct {
	PointID  string       `json:"point_id"`
	Source   string       `json:"source"`
	Score    float64      `json:"score"`
	Vector   point.Vector `json:"vector"`
	Admitted bool         `json:"admitted"`
}

// ErrorPayload accompanies TypeError
type ErrorPayload struct {
	PointID string `json:"point_id,omitempty"`
	Source  string `json:"source,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// CircuitOpenPayload accompanies TypeCircuitOpen
type CircuitOpenPayload struct {
	Reason string `json:"reason"`
}

func newEvent(t Type, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewData builds a TypeData event for a scored point
func NewData(p point.DataPoint, v point.Vector, score float64, admitted bool) Event {
	return newEvent(TypeData, DataPayload{
		PointID:  p.ID,
		Source:   p.Source,
		Score:    score,
		Vector:   v,
		Admitted: admitted,
	})
}

// NewFiltered builds a TypeFiltered event for an admitted point
func NewFiltered(fp point.FilteredDataPoint) Event {
	return newEvent(TypeFiltered, fp)
}

// NewCircuitOpen builds a TypeCircuitOpen event
func NewCircuitOpen(reason string) Event {
	return newEvent(TypeCircuitOpen, CircuitOpenPayload{Reason: reason})
}

// NewError builds a TypeError event for a failed point
func NewError(pointID, source, reason, message string) Event {
	return newEvent(TypeError, ErrorPayload{
		PointID: pointID,
		Source:  source,
		Reason:  reason,
		Message: message,
	})
}
