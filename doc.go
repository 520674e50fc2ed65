// Package flexbuf is a single-producer/single-consumer byte relay built on a
// FLEX circular buffer: a fixed-capacity ring that hands out contiguous
// reservations for writing and reading instead of copying through caller
// slices.
//
// # Architecture
//
//	┌───────────────┐   reservations   ┌──────────────┐   reservations   ┌──────────────┐
//	│    Source     │ ───────────────▶ │ pkg/buffer   │ ───────────────▶ │    Sinks     │
//	│ udp, file,    │   AcquireWrite   │ FLEX ring    │   AcquireRead    │ stdout, file │
//	│ stdin, random │   CommitWrite    │              │   CommitRead     │ nats, ws     │
//	└───────────────┘                  └──────────────┘                  └──────────────┘
//	        └──────────────── pipeline.Relay (errgroup, metrics, run ID) ────────┘
//
// A reservation is up to two spans of the ring: the primary span and, when
// the free or occupied region wraps past the end of storage, a secondary span
// starting at offset zero. Reservations are committed whole or in part and
// released in the order they were granted.
//
// # Packages
//
//   - pkg/buffer: the FLEX buffer, allocators, statistics and io adapters
//   - pipeline: producers, consumers, the Relay and data verification
//   - input/udp: datagram source, one reservation per datagram
//   - output/file, output/nats, output/websocket: sinks
//   - config: layered YAML/JSON configuration with schema validation
//   - metric, health: Prometheus registry, /metrics and /health endpoints
//   - natsclient: NATS connection management with circuit breaking
//   - errors, pkg/retry: classified errors and retry with backoff
//
// The flexbuf command (cmd/flexbuf) exposes demo, relay and bench
// subcommands over these packages.
package flexbuf
