package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
)

// envPrefix scopes environment overrides to this process
const envPrefix = "ECNE_"

// envOverrides maps override variables to their dot paths in the tree.
// Values are coerced to the type already present at the path.
var envOverrides = map[string]string{
	envPrefix + "SENSITIVITY":      "river.sensitivity",
	envPrefix + "MAX_CONCURRENT":   "river.max_concurrent",
	envPrefix + "ADMISSION_POLICY": "river.admission_policy",
	envPrefix + "BATCH_SIZE":       "river.batch_size",
	envPrefix + "NATS_URL":         "nats.url",
	envPrefix + "INGEST_SUBJECT":   "ingest.subject",
	envPrefix + "INGEST_WORKERS":   "ingest.workers",
	envPrefix + "SINK_TYPE":        "sink.type",
	envPrefix + "STREAM_NAME":      "sink.stream_name",
	envPrefix + "METRICS_PORT":     "admin.metrics_port",
	envPrefix + "WS_ENABLED":       "events.websocket.enabled",
	envPrefix + "WS_PORT":          "events.websocket.port",
	envPrefix + "LOG_LEVEL":        "logging.level",
	envPrefix + "LOG_FORMAT":       "logging.format",
}

// Loader assembles configuration from defaults, file layers, and
// environment overrides. Later layers win key by key.
type Loader struct {
	layers []string
	logger *slog.Logger
}

// NewLoader creates a loader with no file layers
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// AddLayer appends a JSON file layer. Layers merge in the order added.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// Load merges all layers, applies environment overrides, and validates
// the result structurally and semantically.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.Wrap(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		layer, err := loadRawJSON(path)
		if err != nil {
			return nil, errors.Wrap(err, "Loader", "Load",
				fmt.Sprintf("read layer %s", path))
		}
		merged = deepMergeMaps(merged, layer)
		l.logger.Debug("configuration layer merged", "path", path)
	}

	if err := l.applyEnvOverrides(merged); err != nil {
		return nil, err
	}

	if err := validateSchema(merged); err != nil {
		return nil, err
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.Wrap(err, "Loader", "Load", "decode merged configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides writes recognized ECNE_* variables into the map
func (l *Loader) applyEnvOverrides(merged map[string]any) error {
	for name, path := range envOverrides {
		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setPath(merged, path, raw); err != nil {
			return errors.WrapInvalid(err, "Loader", "Load",
				fmt.Sprintf("apply override %s", name))
		}
		l.logger.Debug("environment override applied", "var", name, "path", path)
	}
	return nil
}

// setPath coerces raw to the type already stored at the dot path
func setPath(m map[string]any, path, raw string) error {
	parts := strings.Split(path, ".")
	for _, key := range parts[:len(parts)-1] {
		child, ok := m[key].(map[string]any)
		if !ok {
			return fmt.Errorf("%w: no section %q", errors.ErrInvalidConfig, key)
		}
		m = child
	}

	leaf := parts[len(parts)-1]
	switch m[leaf].(type) {
	case bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: expected bool, got %q", errors.ErrInvalidConfig, path, raw)
		}
		m[leaf] = v
	case float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: expected number, got %q", errors.ErrInvalidConfig, path, raw)
		}
		m[leaf] = v
	case string:
		m[leaf] = raw
	default:
		return fmt.Errorf("%w: no setting at %q", errors.ErrInvalidConfig, path)
	}
	return nil
}

// loadRawJSON reads one layer file into a generic map
func loadRawJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var layer map[string]any
	if err := json.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return layer, nil
}

// deepMergeMaps merges overlay into base recursively. Map values merge
// key by key; everything else replaces. Explicit nulls are skipped so a
// layer cannot accidentally erase a setting.
func deepMergeMaps(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if v == nil {
			continue
		}
		if overlayMap, ok := v.(map[string]any); ok {
			if baseMap, ok := out[k].(map[string]any); ok {
				out[k] = deepMergeMaps(baseMap, overlayMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateSchema runs the structural check before decoding
func validateSchema(merged map[string]any) error {
	document, err := json.Marshal(merged)
	if err != nil {
		return errors.Wrap(err, "Loader", "Load", "encode merged configuration")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(document))
	if err != nil {
		return errors.Wrap(err, "Loader", "Load", "run schema validation")
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
		"Loader", "Load", "validate configuration structure")
}
