package point

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
)

func validPoint() DataPoint {
	return DataPoint{
		ID:        "p-1",
		Source:    "sensor-a",
		Timestamp: time.Now(),
		Content:   map[string]any{"value": 42.0},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DataPoint)
		valid  bool
	}{
		{"valid point", func(_ *DataPoint) {}, true},
		{"missing id", func(p *DataPoint) { p.ID = "" }, false},
		{"missing source", func(p *DataPoint) { p.Source = "" }, false},
		{"zero timestamp", func(p *DataPoint) { p.Timestamp = time.Time{} }, false},
		{"nil content", func(p *DataPoint) { p.Content = nil }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPoint()
			tt.mutate(&p)
			err := p.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidPayload)
				assert.Equal(t, "invalid_payload", errors.Reason(err))
			}
		})
	}
}

func TestNewGeneratesIdentity(t *testing.T) {
	p := New("sensor-b", map[string]any{"reading": 1})
	q := New("sensor-b", map[string]any{"reading": 1})

	require.NoError(t, p.Validate())
	assert.NotEmpty(t, p.ID)
	assert.NotEqual(t, p.ID, q.ID)
	assert.Equal(t, "sensor-b", p.Source)
}

func TestVectorCombine(t *testing.T) {
	v := Vector{Psi: 0.9, Rho: 0.9, Q: 0.9, F: 0.9}
	w := Weights{Psi: 0.25, Rho: 0.25, Q: 0.25, F: 0.25}

	assert.InDelta(t, 0.9, v.Combine(w), 1e-9)

	// Skewed weights favor a single dimension.
	w = Weights{Psi: 1, Rho: 0, Q: 0, F: 0}
	v = Vector{Psi: 0.3, Rho: 1, Q: 1, F: 1}
	assert.InDelta(t, 0.3, v.Combine(w), 1e-9)
}

func TestFilteredDataPointPromotesIdentity(t *testing.T) {
	fp := FilteredDataPoint{
		DataPoint: validPoint(),
		Coherence: Vector{Psi: 0.8, Rho: 0.8, Q: 0.8, F: 0.8},
		Score:     0.8,
	}

	// Identity fields read through to the wrapped point.
	assert.Equal(t, "p-1", fp.ID)
	assert.Equal(t, "sensor-a", fp.Source)
	require.NoError(t, fp.Validate())

	// The wrapped point still serializes as a nested object.
	data, err := json.Marshal(fp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	nested, ok := decoded["data_point"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "p-1", nested["id"])
	assert.Equal(t, "sensor-a", nested["source"])
}

func TestWithAnnotationDoesNotMutateReceiver(t *testing.T) {
	fp := FilteredDataPoint{
		DataPoint: validPoint(),
		Coherence: Vector{Psi: 0.5, Rho: 0.5, Q: 0.5, F: 0.5},
		Score:     0.5,
	}

	annotated := fp.WithAnnotation("anomaly", true)

	assert.Nil(t, fp.Annotations)
	require.NotNil(t, annotated.Annotations)
	assert.Equal(t, true, annotated.Annotations["anomaly"])

	// Chaining preserves earlier annotations.
	twice := annotated.WithAnnotation("prediction", 0.7)
	assert.Len(t, twice.Annotations, 2)
	assert.Len(t, annotated.Annotations, 1)
}
