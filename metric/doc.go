// Package metric provides the Prometheus registry and HTTP endpoint for flexbuf.
//
// A process creates one MetricsRegistry. It carries the core relay metrics
// (Metrics) and the Go runtime collectors; the buffer engine, the UDP input
// and the sinks register their own collectors through the MetricsRegistrar
// methods, keyed by owner and name so duplicates are rejected as invalid.
//
//	registry := metric.NewMetricsRegistry()
//	buf, err := buffer.New(1024, 16, buffer.WithMetrics(registry, "relay"))
//
//	srv := metric.NewServer(":9090", "/metrics", registry, logger)
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop(5 * time.Second)
//
// Every metric name starts with the flexbuf namespace.
package metric
