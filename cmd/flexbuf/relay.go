package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/flexbuf/config"
	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/health"
	"github.com/c360/flexbuf/input/udp"
	"github.com/c360/flexbuf/metric"
	"github.com/c360/flexbuf/natsclient"
	"github.com/c360/flexbuf/output/file"
	natsout "github.com/c360/flexbuf/output/nats"
	"github.com/c360/flexbuf/output/websocket"
	"github.com/c360/flexbuf/pipeline"
)

type relayOptions struct {
	shutdownTimeout time.Duration
}

// relayDeps is what the source and sink builders share.
type relayDeps struct {
	cfg             *config.Config
	registry        *metric.MetricsRegistry // nil when metrics are disabled
	monitor         *health.Monitor
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func newRelayCmd(root *rootOptions) *cobra.Command {
	o := &relayOptions{}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay the configured source into the configured sinks",
		Long: `relay loads the configuration given by --config (or the defaults plus
FLEXBUF_* environment overrides), builds the source and every enabled sink,
and moves bytes between them through one FLEX buffer until the source ends
or the process receives SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd.Context(), cmd, root, o)
		},
	}
	cmd.Flags().DurationVar(&o.shutdownTimeout, "shutdown-timeout",
		getEnvDuration("FLEXBUF_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: FLEXBUF_SHUTDOWN_TIMEOUT)")
	return cmd
}

func runRelay(ctx context.Context, cmd *cobra.Command, root *rootOptions, o *relayOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	logger := root.logger(cfg, cmd.ErrOrStderr())

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := relayDeps{
		cfg:             cfg,
		monitor:         health.NewMonitor(appName),
		logger:          logger,
		shutdownTimeout: o.shutdownTimeout,
	}
	if cfg.Metrics.Enabled {
		deps.registry = metric.NewMetricsRegistry()
		srv := metric.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, deps.registry, logger)
		srv.SetHealthHandler(deps.monitor.Handler())
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(o.shutdownTimeout); err != nil {
				logger.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	producer, stopSource, err := buildSource(ctx, deps, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer stopSource()

	alloc, err := allocatorFor(cfg.Buffer.Allocator)
	if err != nil {
		return err
	}
	consumer := &pipeline.WriterConsumer{
		Chunk:   cfg.Consumer.Chunk,
		Timeout: cfg.Consumer.Timeout.Std(),
		Partial: cfg.Consumer.Partial,
	}
	relay, err := pipeline.NewRelay(pipeline.RelayConfig{
		Name:      cfg.Buffer.Name,
		Capacity:  cfg.Buffer.Capacity,
		Alignment: cfg.Buffer.Alignment,
		Allocator: alloc,
		Registry:  deps.registry,
		Logger:    logger,
	}, producer, consumer)
	if err != nil {
		return err
	}

	sinks, err := buildSinks(ctx, deps, relay.RunID(), cmd.OutOrStdout())
	if err != nil {
		_ = relay.Buffer().Close()
		return err
	}
	consumer.Dst = sinks.Writer()

	deps.monitor.UpdateHealthy("relay", "running")
	res, runErr := relay.Run(ctx)
	closeErr := sinks.Close()
	if runErr != nil && !stderrors.Is(runErr, context.Canceled) {
		deps.monitor.UpdateError("relay", runErr)
	} else {
		deps.monitor.UpdateHealthy("relay", "finished")
	}

	logger.Info("Relay summary",
		"run_id", res.RunID,
		"bytes", res.BytesOut,
		"chunks_in", res.ChunksIn,
		"chunks_out", res.ChunksOut,
		"elapsed", res.Elapsed,
		"throughput_bps", int64(res.Throughput()))

	if runErr != nil && !stderrors.Is(runErr, context.Canceled) {
		return runErr
	}
	return closeErr
}

// buildSource returns the producer named by cfg.Source and a function that
// releases it.
func buildSource(ctx context.Context, deps relayDeps, stdin io.Reader) (pipeline.Producer, func(), error) {
	cfg, logger := deps.cfg, deps.logger
	readerProducer := func(src io.Reader) pipeline.Producer {
		return &pipeline.ReaderProducer{
			Src:     pipeline.Throttle(ctx, src, cfg.Source.Rate),
			Chunk:   cfg.Producer.Chunk,
			Timeout: cfg.Producer.Timeout.Std(),
			Partial: cfg.Producer.Partial,
		}
	}

	switch cfg.Source.Type {
	case config.SourceRandom:
		return readerProducer(pipeline.RandomSource(cfg.Source.Seed, cfg.Source.Size)), func() {}, nil

	case config.SourceStdin:
		return readerProducer(stdin), func() {}, nil

	case config.SourceFile:
		f, err := os.Open(cfg.Source.Path)
		if err != nil {
			return nil, nil, errors.WrapInvalid(err, "cli", "buildSource", "open "+cfg.Source.Path)
		}
		return readerProducer(bufio.NewReader(f)), func() { _ = f.Close() }, nil

	case config.SourceUDP:
		input, err := udp.NewInput(udp.InputDeps{
			Config: udp.Config{
				Address:        cfg.Source.UDP.Address,
				ReadBufferSize: cfg.Source.UDP.BufferSize,
				Timeout:        cfg.Producer.Timeout.Std(),
			},
			MetricsRegistry: deps.registry,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := input.Start(ctx); err != nil {
			return nil, nil, err
		}
		deps.monitor.UpdateHealthy("udp", "listening")
		return input, func() {
			if err := input.Stop(deps.shutdownTimeout); err != nil {
				logger.Warn("UDP input shutdown", "error", err)
			}
			deps.monitor.Remove("udp")
		}, nil
	}
	return nil, nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cli", "buildSource",
		"unknown source type "+cfg.Source.Type)
}

// sinkSet fans every chunk out to all enabled sinks and closes them in
// reverse order of creation.
type sinkSet struct {
	writers []io.Writer
	closers []func() error
}

func (s *sinkSet) add(w io.Writer, closer func() error) {
	s.writers = append(s.writers, w)
	s.closers = append(s.closers, closer)
}

// Writer returns the combined sink.
func (s *sinkSet) Writer() io.Writer {
	if len(s.writers) == 1 {
		return s.writers[0]
	}
	return io.MultiWriter(s.writers...)
}

// Close closes every sink and joins their errors.
func (s *sinkSet) Close() error {
	var errs []error
	for _, closer := range slices.Backward(s.closers) {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return stderrors.Join(errs...)
}

func buildSinks(ctx context.Context, deps relayDeps, runID string, stdout io.Writer) (*sinkSet, error) {
	cfg, logger := deps.cfg, deps.logger
	sinks := &sinkSet{}
	fail := func(err error) (*sinkSet, error) {
		_ = sinks.Close()
		return nil, err
	}

	if cfg.Sinks.Stdout {
		w := bufio.NewWriter(stdout)
		sinks.add(w, w.Flush)
	}

	if fc := cfg.Sinks.File; fc.Enabled {
		out, err := file.NewOutput(file.Config{Path: fc.Path, Append: fc.Append, Sync: fc.Sync}, logger)
		if err != nil {
			return fail(err)
		}
		sinks.add(out, out.Close)
	}

	if nc := cfg.Sinks.NATS; nc.Enabled {
		client, err := connectNATS(ctx, cfg.NATS, deps)
		if err != nil {
			return fail(err)
		}
		closeClient := func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), deps.shutdownTimeout)
			defer cancel()
			return client.Close(closeCtx)
		}

		maxPayload := 0
		if conn := client.GetConnection(); conn != nil {
			maxPayload = int(conn.MaxPayload())
		}
		out, err := natsout.NewOutput(ctx, client, natsout.Config{
			Subject:    nc.Subject,
			RunID:      runID,
			MaxPayload: maxPayload,
		}, logger)
		if err != nil {
			_ = closeClient()
			return fail(err)
		}
		sinks.add(out, func() error {
			return stderrors.Join(out.Close(), closeClient())
		})
	}

	if wc := cfg.Sinks.WebSocket; wc.Enabled {
		out, err := websocket.NewOutput(websocket.OutputDeps{
			Config: websocket.Config{
				Address:      wc.Address,
				Path:         wc.Path,
				WriteTimeout: wc.WriteTimeout.Std(),
				PingInterval: wc.PingInterval.Std(),
				QueueSize:    wc.QueueSize,
			},
			MetricsRegistry: deps.registry,
			Logger:          logger,
		})
		if err != nil {
			return fail(err)
		}
		if err := out.Start(ctx); err != nil {
			return fail(err)
		}
		deps.monitor.UpdateHealthy("websocket", "accepting clients")
		sinks.add(out, func() error {
			deps.monitor.Remove("websocket")
			return out.Stop(deps.shutdownTimeout)
		})
	}

	return sinks, nil
}

func connectNATS(ctx context.Context, nc config.NATSConfig, deps relayDeps) (*natsclient.Client, error) {
	var client *natsclient.Client
	client, err := natsclient.NewClient(strings.Join(nc.URLs, ","),
		natsclient.FromConfig(nc),
		natsclient.WithLogger(deps.logger),
		natsclient.WithMetrics(deps.registry),
		natsclient.WithHealthChangeCallback(func(bool) {
			deps.monitor.Update(natsclient.HealthComponent, client.Health())
		}),
	)
	if err != nil {
		return nil, err
	}
	if err := client.ConnectWithRetry(ctx); err != nil {
		deps.monitor.UpdateError(natsclient.HealthComponent, err)
		return nil, err
	}
	return client, nil
}
