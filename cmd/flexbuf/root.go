package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/c360/flexbuf/config"
)

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "FLEX circular buffer demo, relay and benchmark",
		Long: `flexbuf moves bytes between one producer and one consumer through a
fixed-capacity circular buffer that hands out contiguous reservations.

Commands:
  demo     run the two-thread example and verify SRC.bin against DST.bin
  relay    relay a configured source into the configured sinks
  bench    measure in-memory throughput
  config   print or validate configuration files`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateLogFlags(opts.logLevel, opts.logFormat)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c",
		getEnv("FLEXBUF_CONFIG", ""),
		"Path to configuration file, YAML or JSON (env: FLEXBUF_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level",
		getEnv("FLEXBUF_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: FLEXBUF_LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format",
		getEnv("FLEXBUF_LOG_FORMAT", ""),
		"Log format: json, text (env: FLEXBUF_LOG_FORMAT)")

	cmd.AddCommand(
		newDemoCmd(opts),
		newRelayCmd(opts),
		newBenchCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig returns the configuration named by --config, or the defaults
// with FLEXBUF_* overrides when no file is given. Log flags win over both.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		if err := config.ApplyEnv(cfg, config.EnvPrefix); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	return cfg, nil
}

// logger builds the process logger from cfg, or from the log flags alone
// when cfg is nil. Logs go to w, normally stderr, so stdout stays free for
// relayed data.
func (o *rootOptions) logger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, format := o.logLevel, o.logFormat
	if cfg != nil {
		level, format = cfg.Log.Level, cfg.Log.Format
	}
	logger := setupLogger(w, level, format)
	slog.SetDefault(logger)
	return logger
}
