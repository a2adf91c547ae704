//go:build linux

package serial

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// SerialReader provides low-latency, killable, line-oriented access to a Linux serial port.
// ReadLine must be called from a single goroutine; Close and WriteLine may be
// called concurrently with it.
type SerialReader struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	lines     *lineBuffer
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
}

// OpenTermios opens a serial port using the provided Config and returns a SerialReader.
// The port is configured for raw, low-latency, non-buffered operation.
func OpenTermios(cfg Config) (*SerialReader, error) {
	baud, err := baudToUnix(cfg.BaudRate)
	if err != nil {
		return nil, err
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud

	// VMIN=1, VTIME=0: reads return as soon as a byte is available
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set blocking: %w", err)
	}

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	return &SerialReader{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), cfg.Device),
		done:   make(chan struct{}),
		config: cfg,
		lines:  newLineBuffer(cfg.delimiter()),
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}, nil
}

func openTermios(cfg Config) (LineReader, error) {
	r, err := OpenTermios(cfg)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// WriteLine writes a line (with specified newline) to the serial port.
func (s *SerialReader) WriteLine(line string, newline string) error {
	_, err := s.file.WriteString(line + newline)
	return err
}

// ReadLine reads a single line from the serial port, blocking until a full
// line is received, Config.ReadTimeout expires, or the reader is closed.
// This avoids bufio for lowest latency.
func (s *SerialReader) ReadLine() (string, error) {
	if line, ok := s.lines.next(); ok {
		return line, nil
	}

	var deadline time.Time
	if s.config.ReadTimeout > 0 {
		deadline = time.Now().Add(s.config.ReadTimeout)
	}

	buf := make([]byte, 4096)
	for {
		timeout := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return "", ErrReadTimeout
			}
			timeout = int(remaining.Milliseconds())
			if timeout == 0 {
				timeout = 1
			}
		}

		// Use poll to wait for data or kill signal
		pfd := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.pipeR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfd, timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return "", err
		}

		select {
		case <-s.done:
			return "", ErrClosed
		default:
		}
		if n == 0 {
			return "", ErrReadTimeout
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			// Drain pipe
			var b [1]byte
			unix.Read(s.pipeR, b[:])
			return "", ErrClosed
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			n, err := s.file.Read(buf)
			if err != nil {
				return "", err
			}
			s.lines.write(buf[:n])
			if line, ok := s.lines.next(); ok {
				return line, nil
			}
		}
	}
}

// Close closes the serial port and unblocks any pending ReadLine call.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *SerialReader) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		// Wake up poll using self-pipe
		if s.pipeW > 0 {
			unix.Write(s.pipeW, []byte{1})
		}
		// file owns fd
		if s.file != nil {
			err = s.file.Close()
		}
		if s.pipeR > 0 {
			unix.Close(s.pipeR)
		}
		if s.pipeW > 0 {
			unix.Close(s.pipeW)
		}
	})
	return err
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBaud, baud)
	}
}
