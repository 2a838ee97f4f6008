// Package sink delivers admitted points to their destination. The river
// treats any sink failure as ErrSinkFailure; breaker accounting happens
// upstream.
package sink

import (
	"context"

	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

// Sink stores filtered points. Implementations must be safe for
// concurrent use.
type Sink interface {
	// Name identifies the sink in logs and health reports
	Name() string
	// Store persists a filtered point
	Store(ctx context.Context, fp point.FilteredDataPoint) error
}
