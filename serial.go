package serial

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// Backend names accepted by Config.Backend.
const (
	BackendTermios  = "termios"
	BackendPortable = "portable"
)

// DefaultDelimiter terminates lines when Config.Delimiter is empty.
const DefaultDelimiter = "\n"

var (
	// ErrReadTimeout is returned by ReadLine when no full line arrived within
	// Config.ReadTimeout.
	ErrReadTimeout = errors.New("serial: read timeout")
	// ErrClosed is returned by ReadLine once the reader has been closed.
	ErrClosed = errors.New("serial: reader closed")
	// ErrUnsupportedBackend is returned by Open for unknown or unavailable backends.
	ErrUnsupportedBackend = errors.New("serial: unsupported backend")
	// ErrUnsupportedBaud is returned when the backend cannot configure the requested baud rate.
	ErrUnsupportedBaud = errors.New("serial: unsupported baud rate")
)

// LineReader is a source of delimiter-terminated lines.
type LineReader interface {
	// ReadLine blocks until a full line is available, the read timeout
	// expires, or the reader is closed. The delimiter is not included.
	ReadLine() (string, error)
	Close() error
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device      string
	BaudRate    int
	Delimiter   string        // default "\n"
	ReadTimeout time.Duration // zero blocks until a line arrives
	Backend     string        // "termios" (default on Linux) or "portable"
}

func (c Config) delimiter() string {
	if c.Delimiter == "" {
		return DefaultDelimiter
	}
	return c.Delimiter
}

// Open opens the serial port described by cfg using the configured backend.
func Open(cfg Config) (LineReader, error) {
	switch cfg.Backend {
	case "", BackendTermios:
		return openTermios(cfg)
	case BackendPortable:
		r, err := OpenPortable(cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}

// lineBuffer accumulates raw reads and splits them on the delimiter. Bytes
// after the last delimiter stay buffered for the next call.
type lineBuffer struct {
	pending []byte
	delim   []byte
}

func newLineBuffer(delim string) *lineBuffer {
	return &lineBuffer{delim: []byte(delim)}
}

func (b *lineBuffer) write(p []byte) {
	b.pending = append(b.pending, p...)
}

func (b *lineBuffer) next() (string, bool) {
	idx := bytes.Index(b.pending, b.delim)
	if idx < 0 {
		return "", false
	}
	line := string(b.pending[:idx])
	b.pending = b.pending[idx+len(b.delim):]
	return line, true
}
