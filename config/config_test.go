package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLayer(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layer.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sensitivity above one", func(c *Config) { c.River.Sensitivity = 1.5 }},
		{"sensitivity negative", func(c *Config) { c.River.Sensitivity = -0.1 }},
		{"weights do not sum to one", func(c *Config) { c.River.Weights.Psi = 0.9 }},
		{"zero max concurrent", func(c *Config) { c.River.MaxConcurrent = 0 }},
		{"unknown admission policy", func(c *Config) { c.River.AdmissionPolicy = "drop" }},
		{"queue policy without wait", func(c *Config) {
			c.River.AdmissionPolicy = "queue"
			c.River.QueueWaitMs = 0
		}},
		{"zero batch size", func(c *Config) { c.River.BatchSize = 0 }},
		{"batching without linger", func(c *Config) {
			c.River.BatchSize = 16
			c.River.BatchLingerMs = 0
		}},
		{"breaker window smaller than samples", func(c *Config) {
			c.River.Breaker.WindowSize = 5
			c.River.Breaker.MinSamples = 10
		}},
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }},
		{"empty ingest subject", func(c *Config) { c.Ingest.Subject = "" }},
		{"unknown sink type", func(c *Config) { c.Sink.Type = "postgres" }},
		{"memory sink without capacity", func(c *Config) {
			c.Sink.Type = "memory"
			c.Sink.MemoryCapacity = 0
		}},
		{"wildcard in sink prefix", func(c *Config) { c.Sink.SubjectPrefix = "ecne.*" }},
		{"websocket port too low", func(c *Config) {
			c.Events.WebSocket.Enabled = true
			c.Events.WebSocket.Port = 80
		}},
		{"metrics path without slash", func(c *Config) { c.Admin.MetricsPath = "metrics" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoaderMergesLayers(t *testing.T) {
	path := writeLayer(t, `{
		"river": {"sensitivity": 0.7},
		"nats": {"url": "nats://broker:4222"}
	}`)

	loader := NewLoader(nil)
	loader.AddLayer(path)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.River.Sensitivity)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)

	// Untouched settings keep their defaults.
	assert.Equal(t, 64, cfg.River.MaxConcurrent)
	assert.Equal(t, "ecne.raw.>", cfg.Ingest.Subject)
}

func TestLoaderDeepMergePreservesSiblings(t *testing.T) {
	path := writeLayer(t, `{"river": {"breaker": {"window_size": 200}}}`)

	loader := NewLoader(nil)
	loader.AddLayer(path)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.River.Breaker.WindowSize)
	assert.Equal(t, 10, cfg.River.Breaker.MinSamples)
	assert.Equal(t, 0.5, cfg.River.Breaker.ErrorRateThreshold)
}

func TestLoaderLaterLayersWin(t *testing.T) {
	first := writeLayer(t, `{"river": {"sensitivity": 0.3}}`)
	second := writeLayer(t, `{"river": {"sensitivity": 0.9}}`)

	loader := NewLoader(nil)
	loader.AddLayer(first)
	loader.AddLayer(second)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.River.Sensitivity)
}

func TestLoaderEnvOverrides(t *testing.T) {
	t.Setenv("ECNE_SENSITIVITY", "0.8")
	t.Setenv("ECNE_SINK_TYPE", "memory")
	t.Setenv("ECNE_WS_ENABLED", "true")

	cfg, err := NewLoader(nil).Load()
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.River.Sensitivity)
	assert.Equal(t, "memory", cfg.Sink.Type)
	assert.True(t, cfg.Events.WebSocket.Enabled)
}

func TestLoaderEnvOverrideBeatsLayers(t *testing.T) {
	path := writeLayer(t, `{"river": {"sensitivity": 0.3}}`)
	t.Setenv("ECNE_SENSITIVITY", "0.6")

	loader := NewLoader(nil)
	loader.AddLayer(path)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.River.Sensitivity)
}

func TestLoaderEnvOverrideBadType(t *testing.T) {
	t.Setenv("ECNE_SENSITIVITY", "high")

	_, err := NewLoader(nil).Load()
	assert.Error(t, err)
}

func TestLoaderRejectsUnknownSection(t *testing.T) {
	path := writeLayer(t, `{"rivr": {"sensitivity": 0.7}}`)

	loader := NewLoader(nil)
	loader.AddLayer(path)

	_, err := loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rivr")
}

func TestLoaderRejectsWrongType(t *testing.T) {
	path := writeLayer(t, `{"river": {"sensitivity": "high"}}`)

	loader := NewLoader(nil)
	loader.AddLayer(path)

	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoaderMissingLayer(t *testing.T) {
	loader := NewLoader(nil)
	loader.AddLayer(filepath.Join(t.TempDir(), "absent.json"))

	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoaderRejectsInvalidSemantics(t *testing.T) {
	// Structurally sound, semantically out of range.
	path := writeLayer(t, `{"river": {"sensitivity": 2.5}}`)

	loader := NewLoader(nil)
	loader.AddLayer(path)

	_, err := loader.Load()
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	require.NotNil(t, clone)

	clone.River.Sensitivity = 0.99
	clone.River.Breaker.WindowSize = 7

	assert.Equal(t, 0.5, cfg.River.Sensitivity)
	assert.Equal(t, 100, cfg.River.Breaker.WindowSize)
}

func TestSafeConfig(t *testing.T) {
	safe, err := NewSafeConfig(Default())
	require.NoError(t, err)

	got := safe.Get()
	got.River.Sensitivity = 0.99
	assert.Equal(t, 0.5, safe.Get().River.Sensitivity)

	next := Default()
	next.River.Sensitivity = 0.8
	require.NoError(t, safe.Update(next))
	assert.Equal(t, 0.8, safe.Get().River.Sensitivity)

	bad := Default()
	bad.River.Sensitivity = 3
	assert.Error(t, safe.Update(bad))
	assert.Equal(t, 0.8, safe.Get().River.Sensitivity)
}

func TestSafeConfigRejectsInvalidInitial(t *testing.T) {
	_, err := NewSafeConfig(nil)
	assert.Error(t, err)

	bad := Default()
	bad.River.MaxConcurrent = -1
	_, err = NewSafeConfig(bad)
	assert.Error(t, err)
}

func TestBreakerSettings(t *testing.T) {
	cfg := Default()
	settings := cfg.River.BreakerSettings()

	assert.Equal(t, 100, settings.WindowSize)
	assert.Equal(t, 2*time.Second, settings.LatencyThreshold)
	assert.Equal(t, 30*time.Second, settings.Cooldown)
	assert.NoError(t, settings.Validate())
}

func TestJetStreamSettings(t *testing.T) {
	cfg := Default()
	settings := cfg.Sink.JetStreamSettings()

	assert.Equal(t, "ECNE_FILTERED", settings.StreamName)
	assert.Equal(t, "ecne.filtered", settings.SubjectPrefix)
	assert.Equal(t, 24*time.Hour, settings.MaxAge)
}

func TestConfigRoundTripsThroughJSON(t *testing.T) {
	cfg := Default()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *cfg, decoded)
}
