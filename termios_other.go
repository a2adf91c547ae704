//go:build !linux

package serial

import "fmt"

func openTermios(cfg Config) (LineReader, error) {
	return nil, fmt.Errorf("%w: termios is only available on linux, use %q", ErrUnsupportedBackend, BackendPortable)
}
