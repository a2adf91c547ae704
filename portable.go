package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	bugst "go.bug.st/serial"
)

// timeoutPort is the subset of go.bug.st/serial.Port used by PortableReader.
type timeoutPort interface {
	io.Reader
	io.Closer
	SetReadTimeout(t time.Duration) error
}

// PortableReader reads lines through go.bug.st/serial. A Read that returns
// no bytes and no error means the port's read timeout expired.
type PortableReader struct {
	port   timeoutPort
	lines  *lineBuffer
	buf    []byte
	mu     sync.Mutex
	closed bool
}

// OpenPortable opens cfg.Device with go.bug.st/serial using 8N1 framing.
func OpenPortable(cfg Config) (*PortableReader, error) {
	if cfg.BaudRate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBaud, cfg.BaudRate)
	}
	port, err := bugst.Open(cfg.Device, &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}
	r, err := newPortableReader(port, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return r, nil
}

func newPortableReader(port timeoutPort, cfg Config) (*PortableReader, error) {
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = bugst.NoTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return &PortableReader{
		port:  port,
		lines: newLineBuffer(cfg.delimiter()),
		buf:   make([]byte, 4096),
	}, nil
}

// ReadLine reads a single line. Partial input survives a timeout.
func (p *PortableReader) ReadLine() (string, error) {
	if line, ok := p.lines.next(); ok {
		return line, nil
	}
	for {
		if p.isClosed() {
			return "", ErrClosed
		}
		n, err := p.port.Read(p.buf)
		if n > 0 {
			p.lines.write(p.buf[:n])
			if line, ok := p.lines.next(); ok {
				return line, nil
			}
			continue
		}
		if err != nil {
			var portErr *bugst.PortError
			if p.isClosed() || errors.Is(err, io.EOF) ||
				(errors.As(err, &portErr) && portErr.Code() == bugst.PortClosed) {
				return "", ErrClosed
			}
			return "", err
		}
		return "", ErrReadTimeout
	}
}

func (p *PortableReader) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close closes the underlying port. Safe to call multiple times.
func (p *PortableReader) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.port.Close()
}
