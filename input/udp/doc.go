// Package udp feeds a FLEX buffer from a UDP socket.
//
// Each datagram becomes exactly one write reservation: the input asks for the
// datagram's full length without partial grants, copies it in and commits.
// When the consumer falls behind and no reservation can be obtained before
// Config.Timeout, the datagram is dropped and counted under the "unavailable"
// reason. Datagrams larger than the buffer capacity can never fit and are
// dropped as "oversize".
//
//	in, err := udp.NewInput(udp.InputDeps{
//	    Config:          udp.Config{Address: ":14550", Timeout: time.Second},
//	    MetricsRegistry: registry,
//	    Logger:          logger,
//	})
//	if err != nil {
//	    return err
//	}
//	go func() { errc <- in.Produce(ctx, buf) }()
//	...
//	_ = in.Stop(5 * time.Second)
//
// Produce binds the socket if Start has not been called, reads with a short
// deadline so cancellation and Stop are observed promptly, and closes the
// buffer's write side on return so a consumer drains and sees io.EOF.
//
// Metrics are registered under flexbuf_udp_* with a "port" label when a
// metric.MetricsRegistry is supplied.
package udp
