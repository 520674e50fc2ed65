package nats

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/c360/flexbuf/errors"
	"github.com/google/uuid"
	gonats "github.com/nats-io/nats.go"
)

// Header names set on every published chunk.
const (
	HeaderRun   = "Flexbuf-Run"
	HeaderSeq   = "Flexbuf-Seq"
	HeaderMsgID = gonats.MsgIdHdr
)

// Publisher is the part of natsclient.Client the output needs.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *gonats.Msg) error
	Flush(ctx context.Context) error
}

// Config configures a NATS output.
type Config struct {
	Subject string
	// RunID tags every message; a random UUID is used when empty.
	RunID string
	// MaxPayload splits larger writes into several messages; zero disables
	// splitting.
	MaxPayload int
}

// Output publishes each Write as one NATS message carrying the run ID and a
// per-run sequence number.
type Output struct {
	ctx        context.Context
	pub        Publisher
	subject    string
	runID      string
	maxPayload int
	logger     *slog.Logger

	seq      atomic.Uint64
	bytes    atomic.Int64
	messages atomic.Int64
}

// NewOutput creates a NATS output publishing through pub. ctx bounds every
// publish made by Write.
func NewOutput(ctx context.Context, pub Publisher, cfg Config, logger *slog.Logger) (*Output, error) {
	if pub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Output", "NewOutput", "publisher required")
	}
	if !validSubject(cfg.Subject) {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "NewOutput",
			"invalid subject "+strconv.Quote(cfg.Subject))
	}
	if cfg.MaxPayload < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "NewOutput", "max_payload cannot be negative")
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{
		ctx:        ctx,
		pub:        pub,
		subject:    cfg.Subject,
		runID:      cfg.RunID,
		maxPayload: cfg.MaxPayload,
		logger:     logger.With("component", "nats-output", "subject", cfg.Subject),
	}, nil
}

// validSubject accepts publishable subjects: dot-separated non-empty tokens
// without whitespace or wildcards.
func validSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, tok := range strings.Split(s, ".") {
		if tok == "" || tok == "*" || tok == ">" || strings.ContainsAny(tok, " \t\r\n") {
			return false
		}
	}
	return true
}

// RunID returns the run ID sent in the Flexbuf-Run header.
func (o *Output) RunID() string { return o.runID }

// Messages returns the number of messages published.
func (o *Output) Messages() int64 { return o.messages.Load() }

// Bytes returns the payload bytes published.
func (o *Output) Bytes() int64 { return o.bytes.Load() }

// Write publishes p, split by MaxPayload. The payload is copied, so p may be
// reused once Write returns.
func (o *Output) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := len(p)
		if o.maxPayload > 0 && end-written > o.maxPayload {
			end = written + o.maxPayload
		}
		if err := o.publish(p[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

func (o *Output) publish(chunk []byte) error {
	seq := o.seq.Add(1)
	msg := gonats.NewMsg(o.subject)
	msg.Data = append([]byte(nil), chunk...)
	msg.Header.Set(HeaderRun, o.runID)
	msg.Header.Set(HeaderSeq, strconv.FormatUint(seq, 10))
	msg.Header.Set(HeaderMsgID, o.runID+"-"+strconv.FormatUint(seq, 10))

	if err := o.pub.PublishMsg(o.ctx, msg); err != nil {
		o.logger.Warn("publish failed", "seq", seq, "size", len(chunk), "error", err)
		return errors.WrapTransient(err, "Output", "Write", "publish chunk")
	}
	o.messages.Add(1)
	o.bytes.Add(int64(len(chunk)))
	return nil
}

// Close flushes pending publishes.
func (o *Output) Close() error {
	if err := o.pub.Flush(o.ctx); err != nil {
		return errors.WrapTransient(err, "Output", "Close", "flush")
	}
	o.logger.Debug("NATS output closed", "messages", o.messages.Load(), "bytes", o.bytes.Load())
	return nil
}
