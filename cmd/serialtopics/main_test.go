package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serial "github.com/luhtfiimanal/go-serial-topics"
	"github.com/luhtfiimanal/go-serial-topics/internal/config"
)

// fakeReader serves lines once, then reports ErrClosed after Close.
type fakeReader struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

func (f *fakeReader) ReadLine() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", serial.ErrClosed
	}
	if len(f.lines) == 0 {
		return "", serial.ErrReadTimeout
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	return line, nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func failingOpener(serial.Config) (serial.LineReader, error) {
	return nil, errors.New("no such file or directory")
}

func TestExecute_PortOpenFailureExitsWithTwo(t *testing.T) {
	code := execute([]string{"--port", "/dev/ttyNOPE", "--log-level", "error"}, failingOpener, io.Discard)
	assert.Equal(t, exitPortOpen, code)
}

func TestExecute_PortOpenFailureWinsOverUnreachableNATS(t *testing.T) {
	var stderr bytes.Buffer
	code := execute([]string{
		"--port", "/dev/ttyNOPE",
		"--bus", "nats",
		"--nats-url", "nats://127.0.0.1:1",
		"--log-level", "error",
	}, failingOpener, &stderr)
	assert.Equal(t, exitPortOpen, code)
	assert.Contains(t, stderr.String(), "could not open the port")
}

func TestExecute_InvalidConfigExitsWithOne(t *testing.T) {
	var stderr bytes.Buffer
	code := execute([]string{"--rate", "0"}, failingOpener, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr.String(), "rate_hz must be positive")
	assert.Contains(t, stderr.String(), "Usage:")

	code = execute([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, failingOpener, io.Discard)
	assert.Equal(t, exitFailure, code)
}

func TestRun_PublishesUntilCancelled(t *testing.T) {
	reader := &fakeReader{lines: []string{"$GPGGA,1\r", "$GPRMC,2\r", "$GPGGA,3\r"}}
	var opened serial.Config
	open := func(cfg serial.Config) (serial.LineReader, error) {
		opened = cfg
		return reader, nil
	}

	cfg := config.Default()
	cfg.Port = "/dev/ttyFAKE"
	cfg.RateHz = 200

	var logs bytes.Buffer
	logger := newLogger(&logs, slog.LevelDebug)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logger, open) }()

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return len(reader.lines) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return after cancel")
	}

	assert.Equal(t, "/dev/ttyFAKE", opened.Device)
	assert.Contains(t, logs.String(), "topic=serial_GPGGA")
	assert.Contains(t, logs.String(), "topic=serial_GPRMC")
	assert.Contains(t, logs.String(), "topics=2")
}

func TestRun_PortOpenFailure(t *testing.T) {
	var logs bytes.Buffer
	err := run(context.Background(), config.Default(), newLogger(&logs, slog.LevelDebug), failingOpener)
	require.ErrorIs(t, err, errPortOpen)
	assert.Contains(t, logs.String(), "could not open the port </dev/ttyACM0>")
}

func TestRun_InvalidTopicNameIsFatal(t *testing.T) {
	reader := &fakeReader{lines: []string{"GP GGA,1"}}
	open := func(serial.Config) (serial.LineReader, error) { return reader, nil }

	cfg := config.Default()
	cfg.RateHz = 200
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var logs bytes.Buffer
	err := run(ctx, cfg, newLogger(&logs, slog.LevelError), open)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errPortOpen)
}

func TestRun_BrokerFailureClosesPort(t *testing.T) {
	reader := &fakeReader{}
	open := func(serial.Config) (serial.LineReader, error) { return reader, nil }

	cfg := config.Default()
	cfg.Bus.Kind = config.BusNATS
	cfg.Bus.NATSURL = "nats://127.0.0.1:1"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var logs bytes.Buffer
	err := run(ctx, cfg, newLogger(&logs, slog.LevelError), open)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errPortOpen)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.True(t, reader.closed)
}

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: /dev/ttyUSB1\nbaud: 9600\n"), 0o644))

	cmd := newRootCmd(failingOpener)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--baud", "57600", "--latched"}))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	overrides := config.Default()
	overrides.Baud = 57600
	overrides.Latched = true
	overrides.QueueDepth = 9
	applyFlags(cmd, &cfg, overrides)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Port)
	assert.Equal(t, 57600, cfg.Baud)
	assert.True(t, cfg.Latched)
	// --queue-depth was not passed
	assert.Equal(t, 1, cfg.QueueDepth)
}
