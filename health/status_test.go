package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		status  Status
		state   string
		healthy bool
	}{
		{NewHealthy("relay", "ok"), StateHealthy, true},
		{NewDegraded("relay", "slow"), StateDegraded, false},
		{NewUnhealthy("relay", "down"), StateUnhealthy, false},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			assert.Equal(t, "relay", tt.status.Component)
			assert.Equal(t, tt.state, tt.status.Status)
			assert.Equal(t, tt.healthy, tt.status.Healthy)
			assert.False(t, tt.status.Timestamp.IsZero())
		})
	}
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("nats", nil).IsHealthy())

	s := FromError("nats", errors.New("dial nats://10.0.0.5:4222 failed"))
	assert.True(t, s.IsUnhealthy())
	assert.Equal(t, "dial [URL] failed", s.Message)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name  string
		subs  []Status
		state string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewHealthy("c", "")}, StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("flexbuf", tt.subs)
			assert.Equal(t, "flexbuf", got.Component)
			assert.Equal(t, tt.state, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_SortsAndCopies(t *testing.T) {
	subs := []Status{NewHealthy("websocket", ""), NewUnhealthy("nats", ""), NewHealthy("relay", "")}
	got := Aggregate("flexbuf", subs)

	require.Len(t, got.SubStatuses, 3)
	assert.Equal(t, "nats", got.SubStatuses[0].Component)
	assert.Equal(t, "relay", got.SubStatuses[1].Component)
	assert.Equal(t, "websocket", got.SubStatuses[2].Component)
	assert.Equal(t, "unhealthy: nats", got.Message)
	assert.Equal(t, "websocket", subs[0].Component, "input slice left untouched")
}

func TestSanitizeMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"unix path", "open /var/lib/flexbuf/out.bin: permission denied", "open [PATH]: permission denied"},
		{"windows path", `cannot read C:\data\out.bin`, "cannot read [PATH]"},
		{"nats url", "cannot connect to nats://localhost:4222", "cannot connect to [URL]"},
		{"websocket url", "dial ws://example.com/stream", "dial [URL]"},
		{"ip address", "no route to 192.168.1.100", "no route to [IP]"},
		{"port", "listen tcp :8081: address in use", "listen tcp [PORT]: address in use"},
		{"credential", "auth failed password=hunter2", "auth failed [REDACTED]"},
		{"plain", "buffer closed", "buffer closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeMessage(tt.input))
		})
	}
}
