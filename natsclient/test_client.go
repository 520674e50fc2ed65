package natsclient

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultTestImage = "nats:2.11.7-alpine"
	clientPort       = "4222/tcp"
	monitorPort      = "8222/tcp"
)

// TestClient is a connected Client backed by a throwaway NATS server
// container. Integration tests use it for the relay's NATS sink.
type TestClient struct {
	Client *Client
	URL    string

	container testcontainers.Container
	cleanup   func()
}

type testServer struct {
	image        string
	maxPayload   int
	timeout      time.Duration
	startTimeout time.Duration
}

// TestOption tunes the server started by NewTestClient.
type TestOption func(*testServer)

// WithNATSVersion selects the nats image tag.
func WithNATSVersion(version string) TestOption {
	return func(s *testServer) { s.image = "nats:" + version }
}

// WithServerMaxPayload lowers the server's max_payload so tests can force
// the relay to split chunks without pushing megabytes through.
func WithServerMaxPayload(n int) TestOption {
	return func(s *testServer) { s.maxPayload = n }
}

// WithTestTimeout bounds connect and drain for the test client.
func WithTestTimeout(timeout time.Duration) TestOption {
	return func(s *testServer) { s.timeout = timeout }
}

// WithStartTimeout bounds how long the container may take to come up.
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(s *testServer) { s.startTimeout = timeout }
}

func (s *testServer) request() testcontainers.ContainerRequest {
	cmd := []string{"--port", "4222", "--http_port", "8222"}
	if s.maxPayload > 0 {
		cmd = append(cmd, "--max_payload", strconv.Itoa(s.maxPayload))
	}
	return testcontainers.ContainerRequest{
		Image:        s.image,
		ExposedPorts: []string{clientPort, monitorPort},
		Cmd:          cmd,
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(clientPort),
			wait.ForHTTP("/healthz").WithPort(monitorPort).WithStartupTimeout(s.startTimeout),
		),
	}
}

// NewSharedTestClient starts a server and connects to it. Callers own the
// result and must Terminate it; TestMain setups use this directly.
func NewSharedTestClient(opts ...TestOption) (*TestClient, error) {
	s := &testServer{
		image:        defaultTestImage,
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: s.request(),
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start nats container: %w", err)
	}
	fail := func(step string, err error) (*TestClient, error) {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	endpoint, err := container.PortEndpoint(ctx, clientPort, "nats")
	if err != nil {
		return fail("resolve nats endpoint", err)
	}

	client, err := NewClient(endpoint,
		WithName("flexbuf-test"),
		WithTimeout(s.timeout),
		WithDrainTimeout(s.timeout),
		WithMaxReconnects(0),
	)
	if err != nil {
		return fail("create client", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return fail("connect", err)
	}

	return &TestClient{
		Client:    client,
		URL:       endpoint,
		container: container,
		cleanup: func() {
			_ = client.Close(context.Background())
			_ = container.Terminate(context.Background())
		},
	}, nil
}

// NewTestClient is NewSharedTestClient with cleanup registered on t.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()
	tc, err := NewSharedTestClient(opts...)
	if err != nil {
		t.Fatalf("nats test server: %v", err)
	}
	t.Cleanup(func() { _ = tc.Terminate() })
	return tc
}

// Terminate closes the client and removes the container. Safe to call twice.
func (tc *TestClient) Terminate() error {
	if tc.cleanup != nil {
		tc.cleanup()
		tc.cleanup = nil
	}
	return nil
}

// Stop halts the server without removing it, so disconnect handling can be
// observed.
func (tc *TestClient) Stop(ctx context.Context) error {
	timeout := 5 * time.Second
	return tc.container.Stop(ctx, &timeout)
}
