// Package ecne implements a coherence-filtered data river: a concurrent
// pipeline that ingests heterogeneous data points, scores each along four
// coherence dimensions (psi, rho, q, f), and forwards only points whose
// weighted score clears a configurable sensitivity threshold.
//
// # Architecture
//
// The river composes small, separately testable stages:
//
//	┌─────────────────────────────────────┐
//	│            Ingest                   │  NATS input, rate limiting,
//	│   (collectors publish raw points)   │  worker-pool fan-out
//	└──────────────────┬──────────────────┘
//	                   ↓ Submit
//	┌─────────────────────────────────────┐
//	│        River Orchestrator           │  admission slot → score →
//	│  (admission, scorer, gate, events)  │  gate → annotate → dispatch
//	└──────────────────┬──────────────────┘
//	                   ↓ guarded by circuit breaker
//	┌─────────────────────────────────────┐
//	│              Sink                   │  memory (dev/test) or
//	│    (storage for admitted points)    │  NATS JetStream (durable)
//	└─────────────────────────────────────┘
//
// Every submission that passes admission produces exactly one terminal
// outcome: a FilteredDataPoint handed to the sink, or a rejection with a
// reason (filtered out, circuit open, sink failure, timeout). Rejections
// are never silent.
//
// # Concurrency model
//
// The admission controller bounds in-flight work with slot tokens; the
// circuit breaker serializes sink outcome accounting under a single
// mutex. All other pipeline state (weights, thresholds, configuration)
// is read-only after Start and safe for unsynchronized concurrent reads.
//
// # Observability
//
// The river emits data / filtered / circuit-open / error events on a
// non-blocking bus (package event); slow or absent observers never
// affect pipeline results. Prometheus metrics and component health are
// exposed over the admin HTTP endpoint wired in cmd/ecne.
package ecne
