package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

// fakeSubscriber captures the handler so tests can inject messages.
type fakeSubscriber struct {
	mu      sync.Mutex
	subject string
	handler func(context.Context, []byte)
	err     error
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subject string, handler func(context.Context, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subject = subject
	f.handler = handler
	return nil
}

func (f *fakeSubscriber) deliver(data []byte) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	handler(context.Background(), data)
}

// countingProcessor records processed points.
type countingProcessor struct {
	mu     sync.Mutex
	points []point.DataPoint
}

func (c *countingProcessor) ProcessDataPoint(_ context.Context, p point.DataPoint) (*point.FilteredDataPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, p)
	return nil, nil
}

func (c *countingProcessor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}

func encodePoint(t *testing.T, source string) []byte {
	t.Helper()
	data, err := json.Marshal(point.New(source, map[string]any{"reading": 1.0}))
	require.NoError(t, err)
	return data
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"empty subject", func(c *Config) { c.Subject = "" }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, true},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }, true},
		{"rate limiting enabled", func(c *Config) { c.RateLimit = 100 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIngesterProcessesValidPoints(t *testing.T) {
	sub := &fakeSubscriber{}
	proc := &countingProcessor{}

	ing, err := New(DefaultConfig(), sub, proc, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, ing.Start(context.Background()))
	defer func() { _ = ing.Stop(time.Second) }()

	assert.Equal(t, "ecne.raw.>", sub.subject)

	for i := 0; i < 10; i++ {
		sub.deliver(encodePoint(t, "sensor-a"))
	}

	require.Eventually(t, func() bool { return proc.count() == 10 }, 2*time.Second, 10*time.Millisecond)

	stats := ing.Stats()
	assert.Equal(t, int64(10), stats.Received)
	assert.Equal(t, int64(0), stats.Malformed)
}

func TestIngesterDiscardsMalformedMessages(t *testing.T) {
	sub := &fakeSubscriber{}
	proc := &countingProcessor{}

	ing, err := New(DefaultConfig(), sub, proc, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, ing.Start(context.Background()))
	defer func() { _ = ing.Stop(time.Second) }()

	sub.deliver([]byte("not json"))
	sub.deliver([]byte(`{"id":"","source":"sensor-a"}`))
	sub.deliver(encodePoint(t, "sensor-a"))

	require.Eventually(t, func() bool { return proc.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), ing.Stats().Malformed)
}

func TestIngesterThrottlesAboveRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 5
	cfg.RateBurst = 5

	sub := &fakeSubscriber{}
	proc := &countingProcessor{}

	ing, err := New(cfg, sub, proc, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, ing.Start(context.Background()))
	defer func() { _ = ing.Stop(time.Second) }()

	// Burst far past the limiter; only the burst allowance passes.
	for i := 0; i < 50; i++ {
		sub.deliver(encodePoint(t, "sensor-a"))
	}

	stats := ing.Stats()
	assert.Equal(t, int64(50), stats.Received)
	assert.Positive(t, stats.Throttled)
	assert.LessOrEqual(t, int64(50)-stats.Throttled, int64(7))
}

func TestIngesterValidation(t *testing.T) {
	sub := &fakeSubscriber{}
	proc := &countingProcessor{}

	_, err := New(DefaultConfig(), nil, proc, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), sub, nil, nil, nil, nil)
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.Workers = 0
	_, err = New(bad, sub, proc, nil, nil, nil)
	assert.Error(t, err)
}

func TestIngesterLifecycle(t *testing.T) {
	sub := &fakeSubscriber{}
	proc := &countingProcessor{}

	ing, err := New(DefaultConfig(), sub, proc, nil, nil, nil)
	require.NoError(t, err)

	assert.Error(t, ing.Stop(time.Second)) // not started

	require.NoError(t, ing.Start(context.Background()))
	assert.Error(t, ing.Start(context.Background())) // already started

	require.NoError(t, ing.Stop(time.Second))
}
