// Package config loads and validates the ECNE runtime configuration.
// Configuration is layered: built-in defaults, then JSON files in the
// order added, then ECNE_* environment overrides. Later layers win.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/GreatPyreneseDad/ECNE-sub001/breaker"
	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/ingest"
	"github.com/GreatPyreneseDad/ECNE-sub001/point"
	"github.com/GreatPyreneseDad/ECNE-sub001/sink"
)

// Config is the root configuration tree
type Config struct {
	River   RiverConfig   `json:"river"`
	NATS    NATSConfig    `json:"nats"`
	Ingest  IngestConfig  `json:"ingest"`
	Sink    SinkConfig    `json:"sink"`
	Events  EventsConfig  `json:"events"`
	Admin   AdminConfig   `json:"admin"`
	Logging LoggingConfig `json:"logging"`
}

// RiverConfig controls scoring, gating, and admission
type RiverConfig struct {
	// Sensitivity is the inclusive admission threshold in [0,1]
	Sensitivity float64 `json:"sensitivity"`
	// Weights are the per-dimension scoring weights; they must sum to 1
	Weights point.Weights `json:"weights"`

	// MaxConcurrent bounds points in flight past admission
	MaxConcurrent int `json:"max_concurrent"`
	// AdmissionPolicy is "shed" or "queue"
	AdmissionPolicy string `json:"admission_policy"`
	// QueueWaitMs bounds the wait for a slot under the queue policy
	QueueWaitMs int `json:"queue_wait_ms"`

	// BatchSize and BatchLingerMs shape sink batching
	BatchSize     int `json:"batch_size"`
	BatchLingerMs int `json:"batch_linger_ms"`

	// ProcessTimeoutMs bounds one point end to end; zero disables
	ProcessTimeoutMs int `json:"process_timeout_ms"`
	// AnnotatorTimeoutMs bounds each annotation stage; zero disables
	AnnotatorTimeoutMs int `json:"annotator_timeout_ms"`

	EnableAnomalyDetection bool `json:"enable_anomaly_detection"`
	EnablePrediction       bool `json:"enable_prediction"`

	Breaker BreakerConfig `json:"breaker"`
}

// BreakerConfig mirrors breaker.Config with millisecond durations
type BreakerConfig struct {
	WindowSize         int     `json:"window_size"`
	MinSamples         int     `json:"min_samples"`
	ErrorRateThreshold float64 `json:"error_rate_threshold"`
	LatencyThresholdMs int     `json:"latency_threshold_ms"`
	CooldownMs         int     `json:"cooldown_ms"`
	SuccessesToClose   int     `json:"successes_to_close"`
}

// NATSConfig controls the messaging connection
type NATSConfig struct {
	URL              string `json:"url"`
	Name             string `json:"name"`
	MaxReconnects    int    `json:"max_reconnects"`
	ReconnectWaitMs  int    `json:"reconnect_wait_ms"`
	ConnectTimeoutMs int    `json:"connect_timeout_ms"`
	DrainTimeoutMs   int    `json:"drain_timeout_ms"`
	// HealthIntervalMs is the RTT probe period; zero disables probing
	HealthIntervalMs int `json:"health_interval_ms"`
}

// IngestConfig controls the raw-point subscription
type IngestConfig struct {
	Subject   string  `json:"subject"`
	Workers   int     `json:"workers"`
	QueueSize int     `json:"queue_size"`
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`
}

// SinkConfig selects and shapes the filtered-point destination
type SinkConfig struct {
	// Type is "memory" or "jetstream"
	Type           string `json:"type"`
	MemoryCapacity int    `json:"memory_capacity"`
	StreamName     string `json:"stream_name"`
	SubjectPrefix  string `json:"subject_prefix"`
	MaxAgeHours    int    `json:"max_age_hours"`
	MaxMsgs        int64  `json:"max_msgs"`
}

// EventsConfig controls the observer surfaces
type EventsConfig struct {
	Enabled       bool            `json:"enabled"`
	SubjectPrefix string          `json:"subject_prefix"`
	BridgeBuffer  int             `json:"bridge_buffer"`
	WebSocket     WebSocketConfig `json:"websocket"`
}

// WebSocketConfig controls the live event broadcaster
type WebSocketConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
	Buffer  int    `json:"buffer"`
}

// AdminConfig controls the metrics and health endpoint
type AdminConfig struct {
	MetricsPort int    `json:"metrics_port"`
	MetricsPath string `json:"metrics_path"`
}

// LoggingConfig controls structured log output
type LoggingConfig struct {
	// Level is debug, info, warn, or error
	Level string `json:"level"`
	// Format is json or text
	Format string `json:"format"`
}

// Default returns the built-in configuration layer
func Default() *Config {
	return &Config{
		River: RiverConfig{
			Sensitivity:        0.5,
			Weights:            point.DefaultWeights(),
			MaxConcurrent:      64,
			AdmissionPolicy:    "shed",
			QueueWaitMs:        5000,
			BatchSize:          1,
			BatchLingerMs:      100,
			ProcessTimeoutMs:   0,
			AnnotatorTimeoutMs: 250,
			Breaker: BreakerConfig{
				WindowSize:         100,
				MinSamples:         10,
				ErrorRateThreshold: 0.5,
				LatencyThresholdMs: 2000,
				CooldownMs:         30000,
				SuccessesToClose:   3,
			},
		},
		NATS: NATSConfig{
			URL:              "nats://localhost:4222",
			Name:             "ecne",
			MaxReconnects:    -1,
			ReconnectWaitMs:  2000,
			ConnectTimeoutMs: 10000,
			DrainTimeoutMs:   30000,
			HealthIntervalMs: 30000,
		},
		Ingest: IngestConfig{
			Subject:   "ecne.raw.>",
			Workers:   8,
			QueueSize: 1024,
		},
		Sink: SinkConfig{
			Type:           "jetstream",
			MemoryCapacity: 10000,
			StreamName:     "ECNE_FILTERED",
			SubjectPrefix:  "ecne.filtered",
			MaxAgeHours:    24,
		},
		Events: EventsConfig{
			Enabled:       true,
			SubjectPrefix: "ecne.events",
			BridgeBuffer:  256,
			WebSocket: WebSocketConfig{
				Enabled: false,
				Port:    8081,
				Path:    "/ws",
				Buffer:  64,
			},
		},
		Admin: AdminConfig{
			MetricsPort: 9090,
			MetricsPath: "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the full tree for semantic errors
func (c *Config) Validate() error {
	if c.River.Sensitivity < 0 || c.River.Sensitivity > 1 {
		return fmt.Errorf("%w: river.sensitivity must be in [0,1], got %v",
			errors.ErrInvalidConfig, c.River.Sensitivity)
	}
	if err := c.River.Weights.Validate(); err != nil {
		return fmt.Errorf("%w: river.weights: %v", errors.ErrInvalidConfig, err)
	}
	if c.River.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: river.max_concurrent must be > 0, got %d",
			errors.ErrInvalidConfig, c.River.MaxConcurrent)
	}
	switch c.River.AdmissionPolicy {
	case "shed":
	case "queue":
		if c.River.QueueWaitMs <= 0 {
			return fmt.Errorf("%w: river.queue_wait_ms must be > 0 under queue policy",
				errors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: river.admission_policy must be shed or queue, got %q",
			errors.ErrInvalidConfig, c.River.AdmissionPolicy)
	}
	if c.River.BatchSize < 1 {
		return fmt.Errorf("%w: river.batch_size must be >= 1, got %d",
			errors.ErrInvalidConfig, c.River.BatchSize)
	}
	if c.River.BatchSize > 1 && c.River.BatchLingerMs <= 0 {
		return fmt.Errorf("%w: river.batch_linger_ms must be > 0 when batching",
			errors.ErrInvalidConfig)
	}
	if c.River.ProcessTimeoutMs < 0 || c.River.AnnotatorTimeoutMs < 0 {
		return fmt.Errorf("%w: river timeouts must be >= 0", errors.ErrInvalidConfig)
	}
	if err := c.River.BreakerSettings().Validate(); err != nil {
		return fmt.Errorf("%w: river.breaker: %v", errors.ErrInvalidConfig, err)
	}

	if c.NATS.URL == "" {
		return fmt.Errorf("%w: nats.url required", errors.ErrInvalidConfig)
	}
	if c.NATS.ReconnectWaitMs <= 0 || c.NATS.ConnectTimeoutMs <= 0 || c.NATS.DrainTimeoutMs <= 0 {
		return fmt.Errorf("%w: nats wait and timeout values must be > 0", errors.ErrInvalidConfig)
	}
	if c.NATS.HealthIntervalMs < 0 {
		return fmt.Errorf("%w: nats.health_interval_ms must be >= 0", errors.ErrInvalidConfig)
	}

	if err := c.Ingest.IngestSettings().Validate(); err != nil {
		return fmt.Errorf("%w: ingest: %v", errors.ErrInvalidConfig, err)
	}

	switch c.Sink.Type {
	case "memory":
		if c.Sink.MemoryCapacity <= 0 {
			return fmt.Errorf("%w: sink.memory_capacity must be > 0, got %d",
				errors.ErrInvalidConfig, c.Sink.MemoryCapacity)
		}
	case "jetstream":
		if c.Sink.StreamName == "" {
			return fmt.Errorf("%w: sink.stream_name required", errors.ErrInvalidConfig)
		}
		if !isValidSubjectPrefix(c.Sink.SubjectPrefix) {
			return fmt.Errorf("%w: sink.subject_prefix %q is not a valid subject",
				errors.ErrInvalidConfig, c.Sink.SubjectPrefix)
		}
		if c.Sink.MaxAgeHours < 0 || c.Sink.MaxMsgs < 0 {
			return fmt.Errorf("%w: sink retention values must be >= 0", errors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: sink.type must be memory or jetstream, got %q",
			errors.ErrInvalidConfig, c.Sink.Type)
	}

	if c.Events.Enabled {
		if !isValidSubjectPrefix(c.Events.SubjectPrefix) {
			return fmt.Errorf("%w: events.subject_prefix %q is not a valid subject",
				errors.ErrInvalidConfig, c.Events.SubjectPrefix)
		}
		if c.Events.BridgeBuffer <= 0 {
			return fmt.Errorf("%w: events.bridge_buffer must be > 0, got %d",
				errors.ErrInvalidConfig, c.Events.BridgeBuffer)
		}
	}
	if c.Events.WebSocket.Enabled {
		ws := c.Events.WebSocket
		if ws.Port < 1024 || ws.Port > 65535 {
			return fmt.Errorf("%w: events.websocket.port must be in 1024-65535, got %d",
				errors.ErrInvalidConfig, ws.Port)
		}
		if !strings.HasPrefix(ws.Path, "/") {
			return fmt.Errorf("%w: events.websocket.path must start with /, got %q",
				errors.ErrInvalidConfig, ws.Path)
		}
		if ws.Buffer <= 0 {
			return fmt.Errorf("%w: events.websocket.buffer must be > 0, got %d",
				errors.ErrInvalidConfig, ws.Buffer)
		}
	}

	if c.Admin.MetricsPort < 1024 || c.Admin.MetricsPort > 65535 {
		return fmt.Errorf("%w: admin.metrics_port must be in 1024-65535, got %d",
			errors.ErrInvalidConfig, c.Admin.MetricsPort)
	}
	if !strings.HasPrefix(c.Admin.MetricsPath, "/") {
		return fmt.Errorf("%w: admin.metrics_path must start with /, got %q",
			errors.ErrInvalidConfig, c.Admin.MetricsPath)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level must be debug, info, warn, or error, got %q",
			errors.ErrInvalidConfig, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: logging.format must be json or text, got %q",
			errors.ErrInvalidConfig, c.Logging.Format)
	}

	return nil
}

// Clone returns a deep copy via a JSON round trip
func (c *Config) Clone() *Config {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil
	}
	return &clone
}

// BreakerSettings converts to the breaker package's configuration
func (r RiverConfig) BreakerSettings() breaker.Config {
	return breaker.Config{
		WindowSize:         r.Breaker.WindowSize,
		MinSamples:         r.Breaker.MinSamples,
		ErrorRateThreshold: r.Breaker.ErrorRateThreshold,
		LatencyThreshold:   time.Duration(r.Breaker.LatencyThresholdMs) * time.Millisecond,
		Cooldown:           time.Duration(r.Breaker.CooldownMs) * time.Millisecond,
		HalfOpenSuccesses:  r.Breaker.SuccessesToClose,
	}
}

// QueueWait returns the queue-policy slot wait as a duration
func (r RiverConfig) QueueWait() time.Duration {
	return time.Duration(r.QueueWaitMs) * time.Millisecond
}

// BatchLinger returns the batch flush bound as a duration
func (r RiverConfig) BatchLinger() time.Duration {
	return time.Duration(r.BatchLingerMs) * time.Millisecond
}

// ProcessTimeout returns the per-point bound as a duration
func (r RiverConfig) ProcessTimeout() time.Duration {
	return time.Duration(r.ProcessTimeoutMs) * time.Millisecond
}

// AnnotatorTimeout returns the per-stage annotation bound as a duration
func (r RiverConfig) AnnotatorTimeout() time.Duration {
	return time.Duration(r.AnnotatorTimeoutMs) * time.Millisecond
}

// IngestSettings converts to the ingest package's configuration
func (i IngestConfig) IngestSettings() ingest.Config {
	return ingest.Config{
		Subject:   i.Subject,
		Workers:   i.Workers,
		QueueSize: i.QueueSize,
		RateLimit: i.RateLimit,
		RateBurst: i.RateBurst,
	}
}

// JetStreamSettings converts to the sink package's stream configuration
func (s SinkConfig) JetStreamSettings() sink.JetStreamConfig {
	cfg := sink.DefaultJetStreamConfig()
	cfg.StreamName = s.StreamName
	cfg.SubjectPrefix = s.SubjectPrefix
	cfg.MaxAge = time.Duration(s.MaxAgeHours) * time.Hour
	cfg.MaxMsgs = s.MaxMsgs
	return cfg
}

// isValidSubjectPrefix accepts dot-separated tokens without wildcards
// or spaces, suitable as a publish-subject prefix.
func isValidSubjectPrefix(prefix string) bool {
	if prefix == "" {
		return false
	}
	for _, part := range strings.Split(prefix, ".") {
		if part == "" {
			return false
		}
		if strings.ContainsAny(part, " \t*>") {
			return false
		}
	}
	return true
}
