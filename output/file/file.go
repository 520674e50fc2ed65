package file

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/c360/flexbuf/errors"
)

// DefaultBufferSize is the bufio size used when Config.BufferSize is zero.
const DefaultBufferSize = 64 * 1024

// Config holds configuration for a file output.
type Config struct {
	Path       string
	Append     bool // append instead of truncating an existing file
	Sync       bool // fsync before close
	BufferSize int
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path is required")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}
	return nil
}

// Stats reports what an output has written so far.
type Stats struct {
	Bytes  int64
	Writes int64
	Errors int64
}

// Output is a buffered io.WriteCloser over a file. It is safe for concurrent
// use.
type Output struct {
	path   string
	sync   bool
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	closed bool

	bytes  atomic.Int64
	writes atomic.Int64
	errors atomic.Int64
}

// NewOutput creates the parent directory if needed and opens the file.
func NewOutput(cfg Config, logger *slog.Logger) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WrapFatal(err, "Output", "NewOutput", "create output directory")
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.Path, flags, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "Output", "NewOutput", "open output file")
	}

	size := cfg.BufferSize
	if size == 0 {
		size = DefaultBufferSize
	}

	o := &Output{
		path:   cfg.Path,
		sync:   cfg.Sync,
		logger: logger.With("component", "file-output", "path", cfg.Path),
		file:   f,
		w:      bufio.NewWriterSize(f, size),
	}
	o.logger.Debug("File output opened", "append", cfg.Append, "sync", cfg.Sync, "buffer_size", size)
	return o, nil
}

// Path returns the file path.
func (o *Output) Path() string { return o.path }

// Write buffers p for the file.
func (o *Output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, errors.WrapInvalid(errors.ErrAlreadyStopped, "Output", "Write", "check state")
	}
	n, err := o.w.Write(p)
	o.bytes.Add(int64(n))
	o.writes.Add(1)
	if err != nil {
		o.errors.Add(1)
		return n, errors.WrapTransient(err, "Output", "Write", "write file")
	}
	return n, nil
}

// Flush writes buffered data to the file.
func (o *Output) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	if err := o.w.Flush(); err != nil {
		o.errors.Add(1)
		return errors.WrapTransient(err, "Output", "Flush", "flush file")
	}
	return nil
}

// Close flushes, optionally fsyncs, and closes the file. It is idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true

	var errs []error
	if err := o.w.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if o.sync {
		if err := o.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync: %w", err))
		}
	}
	if err := o.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if len(errs) > 0 {
		o.errors.Add(1)
		o.logger.Warn("failed to close output file", "error", errs)
		return errors.WrapTransient(stderrors.Join(errs...), "Output", "Close", "close file")
	}

	o.logger.Debug("File output closed", "bytes_written", o.bytes.Load())
	return nil
}

// Stats returns the output counters.
func (o *Output) Stats() Stats {
	return Stats{
		Bytes:  o.bytes.Load(),
		Writes: o.writes.Load(),
		Errors: o.errors.Load(),
	}
}
