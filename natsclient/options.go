package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/flexbuf/config"
	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/metric"
)

// ClientOption configures a Client in NewClient. An option that returns an
// error aborts construction.
type ClientOption func(*Client) error

func positive(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %v", errors.ErrInvalidConfig, name, d)
	}
	return nil
}

// FromConfig applies the connection settings of a relay NATS section:
// client name, reconnect policy and whichever credentials are set.
// Zero values keep the client defaults.
func FromConfig(nc config.NATSConfig) ClientOption {
	return func(c *Client) error {
		if nc.Name != "" {
			c.clientName = nc.Name
		}
		if nc.MaxReconnects != 0 {
			c.maxReconnects = nc.MaxReconnects
		}
		if wait := nc.ReconnectWait.Std(); wait != 0 {
			if err := positive("reconnect wait", wait); err != nil {
				return err
			}
			c.reconnectWait = wait
		}
		if nc.Username != "" {
			c.username, c.password = nc.Username, nc.Password
		}
		if nc.Token != "" {
			c.token = nc.Token
		}
		return nil
	}
}

// Connection behaviour.

// WithName sets the name the server reports for this connection.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout bounds a single dial.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if err := positive("timeout", d); err != nil {
			return err
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds the drain performed by Close.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if err := positive("drain timeout", d); err != nil {
			return err
		}
		c.drainTimeout = d
		return nil
	}
}

// WithMaxReconnects caps the reconnects attempted by the nats library after
// a connection drops. -1 never gives up.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		if n < -1 {
			return fmt.Errorf("%w: max reconnects %d", errors.ErrInvalidConfig, n)
		}
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between library reconnects.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if err := positive("reconnect wait", d); err != nil {
			return err
		}
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets how often the server is pinged.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		if err := positive("ping interval", d); err != nil {
			return err
		}
		c.pingInterval = d
		return nil
	}
}

// WithRetry sets the backoff used by ConnectWithRetry.
func WithRetry(cfg errors.RetryConfig) ClientOption {
	return func(c *Client) error {
		if cfg.MaxRetries < 0 {
			return fmt.Errorf("%w: max retries %d", errors.ErrInvalidConfig, cfg.MaxRetries)
		}
		c.retry = cfg
		return nil
	}
}

// Circuit breaker. Out of range values fall back to the defaults rather
// than failing, since the breaker only shapes how quickly we give up.

// WithCircuitBreakerThreshold sets how many consecutive connect failures
// open the circuit. Values below one select the default of 5.
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			threshold = defaultCircuitThreshold
		}
		c.circuitThreshold = threshold
		return nil
	}
}

// WithMaxBackoff caps the open-circuit backoff. Anything under a second
// selects the default of one minute.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < time.Second {
			d = defaultMaxBackoff
		}
		c.maxBackoff = d
		return nil
	}
}

// Authentication.

// WithCredentials authenticates with a user and password.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username, c.password = username, password
		return nil
	}
}

// WithToken authenticates with a bearer token.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// Observability.

// WithLogger replaces slog.Default. A nil logger is ignored.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics publishes connection state on the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
		return nil
	}
}

// WithDisconnectCallback is called with the cause whenever the connection drops.
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback is called after the library re-establishes a connection.
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithHealthChangeCallback is called on every transition between connected
// and not connected.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}
