package natsclient

import (
	"fmt"

	"github.com/c360/flexbuf/health"
)

// HealthComponent is the component name used in health reports.
const HealthComponent = "nats"

// Health reports the connection as a health status: connected is healthy,
// connecting or reconnecting is degraded, anything else is unhealthy.
func (c *Client) Health() health.Status {
	switch status := c.Status(); status {
	case StatusConnected:
		msg := "connected"
		if rtt, err := c.RTT(); err == nil {
			msg = fmt.Sprintf("connected, rtt %v", rtt)
		}
		return health.NewHealthy(HealthComponent, msg)
	case StatusConnecting, StatusReconnecting:
		return health.NewDegraded(HealthComponent, status.String())
	case StatusCircuitOpen:
		return health.NewUnhealthy(HealthComponent,
			fmt.Sprintf("circuit open after %d failures, retry in %v", c.Failures(), c.Backoff()))
	default:
		return health.NewUnhealthy(HealthComponent, status.String())
	}
}
