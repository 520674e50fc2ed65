// Package retry provides simple exponential backoff retry logic.
//
// The relay uses it for startup work that can fail transiently: connecting to
// NATS, and binding the UDP or WebSocket listener while a previous process
// releases the port.
// The buffer engine itself never retries; a timed-out acquire is returned to
// the caller, who decides.
//
// Presets:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay (listener binds)
//
// Usage:
//
//	ln, err := retry.DoWithResult(ctx, retry.Quick(), func() (net.Listener, error) {
//	    ln, err := net.Listen("tcp", addr)
//	    if err != nil && !errors.Is(err, syscall.EADDRINUSE) {
//	        return nil, retry.NonRetryable(err)
//	    }
//	    return ln, err
//	})
//
// Errors wrapped with NonRetryable stop the loop immediately. A Retryable
// predicate narrows what is retried, for example errors.IsTransient.
package retry
