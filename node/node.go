// Package node runs the acquisition loop: read one line from the serial
// transport, split it into identifier and payload, dispatch it, then wait
// out the rest of the cycle.
//
// A failed read never stops the loop. The line is skipped and the reason is
// logged at debug level.
package node

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/time/rate"

	serial "github.com/luhtfiimanal/go-serial-topics"
	"github.com/luhtfiimanal/go-serial-topics/internal/errs"
	"github.com/luhtfiimanal/go-serial-topics/internal/metrics"
	"github.com/luhtfiimanal/go-serial-topics/sentence"
)

// DefaultRateHz is the default loop cadence.
const DefaultRateHz = 5.0

// ErrInvalidUTF8 marks a line that could not be decoded as text.
var ErrInvalidUTF8 = errors.New("line is not valid utf-8")

// Reason tags why a cycle produced no line.
type Reason int

const (
	// ReasonNone means the read produced a line.
	ReasonNone Reason = iota
	// ReasonTimeout means no full line arrived within the read timeout.
	ReasonTimeout
	// ReasonDecode means the line was not valid UTF-8.
	ReasonDecode
	// ReasonClosed means the transport was closed.
	ReasonClosed
	// ReasonIO covers every other transport error.
	ReasonIO
)

// String returns the metric and log label for r.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonTimeout:
		return "timeout"
	case ReasonDecode:
		return "decode"
	case ReasonClosed:
		return "closed"
	case ReasonIO:
		return "io"
	default:
		return "unknown"
	}
}

// Reading is the outcome of one read: either a decoded line or a failure
// reason with its cause.
type Reading struct {
	Line   string
	Reason Reason
	Err    error
}

// OK reports whether the read produced a line.
func (r Reading) OK() bool {
	return r.Reason == ReasonNone
}

// Dispatcher receives parsed sentences. An error stops the loop.
type Dispatcher interface {
	Dispatch(id, payload sentence.Field) error
}

// Node drives a LineReader into a Dispatcher at a fixed cadence.
type Node struct {
	src     serial.LineReader
	dst     Dispatcher
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Node.
type Option func(*Node)

// WithRate sets the loop cadence in Hz. Non-positive values disable pacing.
func WithRate(hz float64) Option {
	return func(n *Node) {
		if hz <= 0 {
			n.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		n.limiter = rate.NewLimiter(rate.Limit(hz), 1)
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMetrics records reads and read failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// New returns a Node reading from src and dispatching to dst.
func New(src serial.LineReader, dst Dispatcher, opts ...Option) *Node {
	n := &Node{
		src:     src,
		dst:     dst,
		limiter: rate.NewLimiter(rate.Limit(DefaultRateHz), 1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Run loops until ctx is cancelled, then returns nil without draining
// buffered input. It returns early only when dispatch fails, which means a
// topic could not be created.
func (n *Node) Run(ctx context.Context) error {
	// the first cycle owns the initial token, so the wait after it
	// covers the rest of a full period
	n.limiter.Allow()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := n.Step(); err != nil {
			return err
		}
		if err := n.limiter.Wait(ctx); err != nil {
			// next cycle would start after ctx ends
			<-ctx.Done()
			return nil
		}
	}
}

// Step performs a single read, parse and dispatch cycle without pacing.
func (n *Node) Step() error {
	reading := n.read()

	id, payload := sentence.None, sentence.None
	if reading.OK() {
		n.metrics.LineRead()
		id, payload = sentence.Parse(reading.Line)
		if !sentence.HasIdentifier(reading.Line) {
			n.logger.Debug("string does not appear to use comma separated values", "line", reading.Line)
		}
	} else {
		n.metrics.ReadFailed(reading.Reason.String())
		n.logger.Debug("skipping cycle", "reason", reading.Reason.String(),
			"class", errs.ClassOf(reading.Err).String(), "error", reading.Err)
	}

	return n.dst.Dispatch(id, payload)
}

func (n *Node) read() Reading {
	line, err := n.src.ReadLine()
	switch {
	case err == nil:
	case errors.Is(err, serial.ErrReadTimeout):
		return failed(ReasonTimeout, err)
	case errors.Is(err, serial.ErrClosed):
		return failed(ReasonClosed, err)
	default:
		return failed(ReasonIO, err)
	}
	if !utf8.ValidString(line) {
		return failed(ReasonDecode, ErrInvalidUTF8)
	}
	return Reading{Line: line}
}

func failed(reason Reason, err error) Reading {
	return Reading{Reason: reason, Err: errs.WrapTransient(err, "Node", "read", "read "+reason.String())}
}
