// Package websocket broadcasts relay output to WebSocket clients.
//
// Output is an io.WriteCloser: each Write becomes one binary frame queued for
// every connected client. On connect a client first receives a text frame
// holding a JSON MessageEnvelope of type "hello" with its client ID.
//
// # Backpressure
//
// Write never waits for a client. Every client owns a bounded queue
// (Config.QueueSize frames) drained by a dedicated writer goroutine with a
// per-frame deadline (Config.WriteTimeout). A client whose queue is full when
// a frame arrives is disconnected as "slow"; a client whose write misses the
// deadline is disconnected as "write_error". The relay is never held back by
// a slow viewer.
//
// # Connection health
//
// The writer goroutine pings every Config.PingInterval and the reader
// goroutine extends the read deadline on each pong, so dead peers are
// detected within two intervals.
//
// # Metrics
//
// With a metric.MetricsRegistry the output exports flexbuf_websocket_*
// counters for frames, bytes, drops, connections and disconnections by
// reason, plus a clients_connected gauge.
package websocket
