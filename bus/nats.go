package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/luhtfiimanal/go-serial-topics/topic"
)

// ErrLatchUnsupported is returned when a latched topic is advertised on NATS.
// Core NATS has no retained messages.
var ErrLatchUnsupported = errors.New("bus: latched topics are not supported by NATS")

// natsPublisher is the subset of *nats.Conn used for publishing.
type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes topics as core NATS subjects.
type NATS struct {
	conn   natsPublisher
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NATSOption configures a NATS bus.
type NATSOption func(*NATS)

// WithSubjectPrefix prepends prefix to every subject, e.g. "gps.".
func WithSubjectPrefix(prefix string) NATSOption {
	return func(n *NATS) { n.prefix = prefix }
}

// WithNATSLogger sets the logger used for connection events.
func WithNATSLogger(logger *slog.Logger) NATSOption {
	return func(n *NATS) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// ConnectNATS dials url and returns a bus publishing on it.
func ConnectNATS(url, clientName string, opts ...NATSOption) (*NATS, error) {
	n := &NATS{logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}

	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			n.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			n.logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	n.nc = nc
	n.conn = nc
	return n, nil
}

// NewNATS wraps an existing publisher.
func NewNATS(conn natsPublisher, opts ...NATSOption) *NATS {
	n := &NATS{conn: conn, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subject returns the NATS subject used for topic name.
func (n *NATS) Subject(name string) string {
	return n.prefix + name
}

// ValidSubject reports whether subject is a literal NATS subject: non-empty
// dot-separated tokens with no whitespace or wildcards.
func ValidSubject(subject string) bool {
	if subject == "" {
		return false
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "" || tok == "*" || tok == ">" {
			return false
		}
		if strings.ContainsAny(tok, " \t\r\n*>") {
			return false
		}
	}
	return true
}

// Advertise implements topic.Broker.
func (n *NATS) Advertise(name string, opts topic.PublisherOptions) (topic.Publisher, error) {
	if opts.Latched {
		return nil, ErrLatchUnsupported
	}
	subject := n.Subject(name)
	if !ValidSubject(subject) {
		return nil, fmt.Errorf("%w: subject %q", ErrInvalidName, subject)
	}
	return &natsTopic{conn: n.conn, subject: subject}, nil
}

// Close drains the connection if the bus owns one.
func (n *NATS) Close() error {
	if n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}

type natsTopic struct {
	conn    natsPublisher
	subject string
}

func (t *natsTopic) Publish(payload string) error {
	return t.conn.Publish(t.subject, []byte(payload))
}
