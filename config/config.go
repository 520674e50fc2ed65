package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/pkg/buffer"
)

// Source types understood by the relay.
const (
	SourceRandom = "random"
	SourceFile   = "file"
	SourceStdin  = "stdin"
	SourceUDP    = "udp"
)

// Allocator names for BufferConfig.Allocator.
const (
	AllocatorHeap = "heap"
	AllocatorMmap = "mmap"
)

// Config represents the complete relay configuration
type Config struct {
	Buffer   BufferConfig  `json:"buffer" yaml:"buffer"`
	Producer StageConfig   `json:"producer" yaml:"producer"`
	Consumer StageConfig   `json:"consumer" yaml:"consumer"`
	Source   SourceConfig  `json:"source" yaml:"source"`
	Sinks    SinksConfig   `json:"sinks" yaml:"sinks"`
	NATS     NATSConfig    `json:"nats" yaml:"nats"`
	Metrics  MetricsConfig `json:"metrics" yaml:"metrics"`
	Log      LogConfig     `json:"log" yaml:"log"`
}

// BufferConfig sizes the ring shared by producer and consumer.
type BufferConfig struct {
	Name      string `json:"name" yaml:"name"`
	Capacity  int    `json:"capacity" yaml:"capacity"`
	Alignment int    `json:"alignment" yaml:"alignment"`
	Allocator string `json:"allocator" yaml:"allocator"` // heap or mmap
}

// StageConfig controls how one side of the relay reserves space.
type StageConfig struct {
	Chunk   int      `json:"chunk" yaml:"chunk"`
	Timeout Duration `json:"timeout" yaml:"timeout"` // "infinite" blocks
	Partial bool     `json:"partial" yaml:"partial"`
}

// SourceConfig selects where produced bytes come from.
type SourceConfig struct {
	Type string    `json:"type" yaml:"type"`
	Path string    `json:"path,omitempty" yaml:"path,omitempty"`
	Seed uint64    `json:"seed,omitempty" yaml:"seed,omitempty"`
	Size int64     `json:"size,omitempty" yaml:"size,omitempty"`
	Rate int       `json:"rate,omitempty" yaml:"rate,omitempty"` // bytes per second, 0 is unthrottled
	UDP  UDPConfig `json:"udp" yaml:"udp"`
}

// UDPConfig configures the datagram listener source.
type UDPConfig struct {
	Address    string `json:"address" yaml:"address"`
	BufferSize int    `json:"buffer_size" yaml:"buffer_size"` // socket receive buffer
}

// SinksConfig lists the consumers of relayed bytes. Every enabled sink
// receives every chunk.
type SinksConfig struct {
	Stdout    bool            `json:"stdout" yaml:"stdout"`
	File      FileSinkConfig  `json:"file" yaml:"file"`
	NATS      NATSSinkConfig  `json:"nats" yaml:"nats"`
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
}

// FileSinkConfig configures output/file.
type FileSinkConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
	Append  bool   `json:"append" yaml:"append"`
	Sync    bool   `json:"sync" yaml:"sync"` // fsync on close
}

// NATSSinkConfig configures output/nats.
type NATSSinkConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Subject string `json:"subject" yaml:"subject"`
}

// WebSocketConfig configures output/websocket.
type WebSocketConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Address      string   `json:"address" yaml:"address"`
	Path         string   `json:"path" yaml:"path"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval Duration `json:"ping_interval" yaml:"ping_interval"`
	QueueSize    int      `json:"queue_size" yaml:"queue_size"` // frames per client
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty" yaml:"urls,omitempty"`
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	MaxReconnects int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Username      string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Path    string `json:"path" yaml:"path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json or text
}

// Default returns the configuration used when no file is given. It relays
// 1 MiB of pseudo-random data through a 1 KiB buffer to stdout.
func Default() *Config {
	return &Config{
		Buffer: BufferConfig{
			Name:      "relay",
			Capacity:  1024,
			Alignment: 16,
			Allocator: AllocatorHeap,
		},
		Producer: StageConfig{Chunk: 256, Timeout: Duration(time.Second)},
		Consumer: StageConfig{Chunk: 1024, Timeout: Duration(time.Second), Partial: true},
		Source: SourceConfig{
			Type: SourceRandom,
			Seed: 1,
			Size: 1 << 20,
			UDP:  UDPConfig{Address: ":14550"},
		},
		Sinks: SinksConfig{
			Stdout: true,
			NATS:   NATSSinkConfig{Subject: "flexbuf.relay"},
			WebSocket: WebSocketConfig{
				Address:      ":8081",
				Path:         "/stream",
				WriteTimeout: Duration(5 * time.Second),
				PingInterval: Duration(30 * time.Second),
				QueueSize:    64,
			},
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Name:          "flexbuf",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Metrics: MetricsConfig{Address: ":9090", Path: "/metrics"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	clone := *c
	clone.NATS.URLs = slices.Clone(c.NATS.URLs)
	return &clone
}

// Validate checks if the config is valid. The returned error wraps
// errors.ErrInvalidConfig and is classified invalid.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Config", "Validate", "validate configuration")
	}
	return nil
}

func (c *Config) validate() error {
	b := c.Buffer
	if b.Capacity <= 0 {
		return fmt.Errorf("buffer.capacity must be positive, got %d", b.Capacity)
	}
	if b.Alignment < 0 || (b.Alignment > 1 && b.Alignment&(b.Alignment-1) != 0) {
		return fmt.Errorf("buffer.alignment must be 0 or a power of two, got %d", b.Alignment)
	}
	switch b.Allocator {
	case "", AllocatorHeap, AllocatorMmap:
	default:
		return fmt.Errorf("buffer.allocator %q is not heap or mmap", b.Allocator)
	}

	for name, st := range map[string]StageConfig{"producer": c.Producer, "consumer": c.Consumer} {
		if st.Chunk <= 0 || st.Chunk > b.Capacity {
			return fmt.Errorf("%s.chunk must be in (0, %d], got %d", name, b.Capacity, st.Chunk)
		}
	}
	if !c.Producer.Partial && !c.Consumer.Partial &&
		buffer.ChunksStall(b.Capacity, c.Producer.Chunk, c.Consumer.Chunk) {
		return fmt.Errorf("producer.chunk %d and consumer.chunk %d can stall a %d byte buffer; set producer.partial or consumer.partial",
			c.Producer.Chunk, c.Consumer.Chunk, b.Capacity)
	}

	if c.Source.Rate < 0 {
		return fmt.Errorf("source.rate must not be negative, got %d", c.Source.Rate)
	}
	switch c.Source.Type {
	case SourceRandom:
		if c.Source.Size <= 0 {
			return fmt.Errorf("source.size must be positive for the random source")
		}
	case SourceFile:
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for the file source")
		}
	case SourceStdin:
	case SourceUDP:
		if c.Source.UDP.Address == "" {
			return fmt.Errorf("source.udp.address is required for the udp source")
		}
		// datagram sizes vary, so a fixed consumer chunk may never fill up
		if !c.Consumer.Partial && c.Consumer.Timeout < 0 {
			return fmt.Errorf("consumer.partial or a finite consumer.timeout is required for the udp source")
		}
	default:
		return fmt.Errorf("source.type %q is not one of random, file, stdin, udp", c.Source.Type)
	}

	s := c.Sinks
	if !s.Stdout && !s.File.Enabled && !s.NATS.Enabled && !s.WebSocket.Enabled {
		return fmt.Errorf("at least one sink must be enabled")
	}
	if s.File.Enabled && s.File.Path == "" {
		return fmt.Errorf("sinks.file.path is required when the file sink is enabled")
	}
	if s.NATS.Enabled {
		if !isValidSubject(s.NATS.Subject) {
			return fmt.Errorf("sinks.nats.subject %q is not a valid NATS subject", s.NATS.Subject)
		}
		if len(c.NATS.URLs) == 0 {
			return fmt.Errorf("nats.urls is required when the nats sink is enabled")
		}
	}
	if s.WebSocket.Enabled {
		if s.WebSocket.Address == "" {
			return fmt.Errorf("sinks.websocket.address is required when the websocket sink is enabled")
		}
		if !strings.HasPrefix(s.WebSocket.Path, "/") {
			return fmt.Errorf("sinks.websocket.path must start with /")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format %q is not json or text", c.Log.Format)
	}
	return nil
}

// isValidSubject checks that s is a publishable NATS subject: dot separated
// non-empty tokens without wildcards or whitespace.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" || strings.ContainsAny(token, "*> \t\r\n") {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
