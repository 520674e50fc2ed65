// Package natsclient wraps nats.go with the connection handling the relay
// needs: a circuit breaker in front of connection attempts, retrying
// connects with exponential backoff, publishing with headers, and a bounded
// drain on close.
//
// # Circuit Breaker
//
// After a threshold of consecutive connection failures (default 5) the
// circuit opens and Connect fails fast with ErrCircuitOpen. After the current
// backoff (starting at one second and doubling up to WithMaxBackoff) the
// circuit half-opens and the next Connect tries the server again.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","),
//	    natsclient.FromConfig(cfg.NATS),
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.ConnectWithRetry(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	msg := nats.NewMsg("flexbuf.relay")
//	msg.Data = chunk
//	msg.Header.Set("Flexbuf-Seq", "1")
//	err = client.PublishMsg(ctx, msg)
//
// # Health
//
// Client.Health reports the connection as a health.Status, which the relay
// feeds into its health.Monitor from WithHealthChangeCallback.
//
// # Testing
//
// NewTestClient starts a NATS server with testcontainers and returns a
// connected client; tests using it carry the integration build tag.
// WithServerMaxPayload shrinks the server's payload limit to exercise
// chunk splitting.
package natsclient
