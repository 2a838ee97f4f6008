package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

// MemorySink retains the most recent filtered points in a fixed-size
// ring. Useful for tests, local development, and as a recent-points
// cache behind the admin surface.
type MemorySink struct {
	mu     sync.RWMutex
	ring   []point.FilteredDataPoint
	next   int
	filled bool
	total  int64
}

// NewMemorySink creates a memory sink retaining up to capacity points
func NewMemorySink(capacity int) (*MemorySink, error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: capacity must be > 0, got %d", errors.ErrInvalidConfig, capacity),
			"MemorySink", "NewMemorySink", "validate capacity")
	}
	return &MemorySink{ring: make([]point.FilteredDataPoint, capacity)}, nil
}

// Name identifies the sink
func (s *MemorySink) Name() string { return "memory" }

// Store records the point, evicting the oldest when full
func (s *MemorySink) Store(_ context.Context, fp point.FilteredDataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring[s.next] = fp
	s.next++
	if s.next == len(s.ring) {
		s.next = 0
		s.filled = true
	}
	s.total++
	return nil
}

// Len returns the number of retained points
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.filled {
		return len(s.ring)
	}
	return s.next
}

// Total returns the count of all points ever stored
func (s *MemorySink) Total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Recent returns up to n retained points, newest first
func (s *MemorySink) Recent(n int) []point.FilteredDataPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.filled {
		size = len(s.ring)
	}
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	out := make([]point.FilteredDataPoint, 0, n)
	idx := s.next - 1
	for len(out) < n {
		if idx < 0 {
			idx = len(s.ring) - 1
		}
		out = append(out, s.ring[idx])
		idx--
	}
	return out
}
