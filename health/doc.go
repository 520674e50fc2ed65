// Package health tracks the health of the relay's components and serves the
// aggregate over HTTP.
//
// Each component (the relay itself, the NATS connection, the WebSocket
// server, the UDP listener) reports one of three states: healthy, degraded
// or unhealthy. The aggregate is unhealthy when any component is, degraded
// when any component is degraded, and healthy otherwise.
//
//	monitor := health.NewMonitor("flexbuf")
//	monitor.UpdateHealthy("relay", "running")
//	monitor.UpdateError("nats", err)
//
//	http.Handle("/health", monitor.Handler())
//
// Error messages are scrubbed of URLs, file paths, IP addresses, ports and
// credentials before they are stored, since the endpoint is usually reachable
// from outside the host.
package health
