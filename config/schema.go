package config

// configSchema is the structural contract for the merged configuration.
// Semantic rules (ranges, enums that depend on other fields) live in
// Config.Validate; the schema catches shape and type mistakes early
// with a field-level message.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "river": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "sensitivity": {"type": "number"},
        "weights": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "psi": {"type": "number"},
            "rho": {"type": "number"},
            "q": {"type": "number"},
            "f": {"type": "number"}
          }
        },
        "max_concurrent": {"type": "integer"},
        "admission_policy": {"type": "string"},
        "queue_wait_ms": {"type": "integer"},
        "batch_size": {"type": "integer"},
        "batch_linger_ms": {"type": "integer"},
        "process_timeout_ms": {"type": "integer"},
        "annotator_timeout_ms": {"type": "integer"},
        "enable_anomaly_detection": {"type": "boolean"},
        "enable_prediction": {"type": "boolean"},
        "breaker": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "window_size": {"type": "integer"},
            "min_samples": {"type": "integer"},
            "error_rate_threshold": {"type": "number"},
            "latency_threshold_ms": {"type": "integer"},
            "cooldown_ms": {"type": "integer"},
            "successes_to_close": {"type": "integer"}
          }
        }
      }
    },
    "nats": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "url": {"type": "string"},
        "name": {"type": "string"},
        "max_reconnects": {"type": "integer"},
        "reconnect_wait_ms": {"type": "integer"},
        "connect_timeout_ms": {"type": "integer"},
        "drain_timeout_ms": {"type": "integer"},
        "health_interval_ms": {"type": "integer"}
      }
    },
    "ingest": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "subject": {"type": "string"},
        "workers": {"type": "integer"},
        "queue_size": {"type": "integer"},
        "rate_limit": {"type": "number"},
        "rate_burst": {"type": "integer"}
      }
    },
    "sink": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "type": {"type": "string"},
        "memory_capacity": {"type": "integer"},
        "stream_name": {"type": "string"},
        "subject_prefix": {"type": "string"},
        "max_age_hours": {"type": "integer"},
        "max_msgs": {"type": "integer"}
      }
    },
    "events": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "subject_prefix": {"type": "string"},
        "bridge_buffer": {"type": "integer"},
        "websocket": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "enabled": {"type": "boolean"},
            "port": {"type": "integer"},
            "path": {"type": "string"},
            "buffer": {"type": "integer"}
          }
        }
      }
    },
    "admin": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "metrics_port": {"type": "integer"},
        "metrics_path": {"type": "string"}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string"},
        "format": {"type": "string"}
      }
    }
  }
}`
