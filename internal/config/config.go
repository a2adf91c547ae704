// Package config loads the router's startup parameters from an optional YAML
// file. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	serial "github.com/luhtfiimanal/go-serial-topics"
	"github.com/luhtfiimanal/go-serial-topics/internal/errs"
	"github.com/luhtfiimanal/go-serial-topics/topic"
)

// Bus kinds.
const (
	BusMemory = "memory"
	BusNATS   = "nats"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the router configuration.
type Config struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	RateHz      float64       `yaml:"rate_hz"`
	Backend     string        `yaml:"backend"`
	Delimiter   string        `yaml:"delimiter"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	LogLevel    string        `yaml:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr"`
	QueueDepth  int           `yaml:"queue_depth"`
	Latched     bool          `yaml:"latched"`
	Bus         BusConfig     `yaml:"bus"`
}

// BusConfig selects where topics are published.
type BusConfig struct {
	Kind          string `yaml:"kind"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	ClientName    string `yaml:"client_name"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Port:        "/dev/ttyACM0",
		Baud:        115200,
		RateHz:      5,
		Backend:     serial.BackendTermios,
		Delimiter:   "\n",
		ReadTimeout: time.Second,
		LogLevel:    "info",
		QueueDepth:  1,
		Bus: BusConfig{
			Kind:       BusMemory,
			NATSURL:    "nats://127.0.0.1:4222",
			ClientName: "serialtopics",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errs.WrapInvalid(err, "Config", "Load", "parse "+path)
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	var problems []string
	if c.Port == "" {
		problems = append(problems, "port is required")
	}
	if c.Baud <= 0 {
		problems = append(problems, fmt.Sprintf("baud must be positive, got %d", c.Baud))
	}
	if c.RateHz <= 0 {
		problems = append(problems, fmt.Sprintf("rate_hz must be positive, got %g", c.RateHz))
	}
	if c.QueueDepth < 1 {
		problems = append(problems, fmt.Sprintf("queue_depth must be at least 1, got %d", c.QueueDepth))
	}
	if c.ReadTimeout < 0 {
		problems = append(problems, "read_timeout must not be negative")
	}
	switch c.Backend {
	case "", serial.BackendTermios, serial.BackendPortable:
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", c.Backend))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Bus.Kind {
	case BusMemory:
	case BusNATS:
		if c.Bus.NATSURL == "" {
			problems = append(problems, "bus.nats_url is required for the nats bus")
		}
		if c.Latched {
			problems = append(problems, "latched topics need the memory bus")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown bus kind %q", c.Bus.Kind))
	}
	if len(problems) > 0 {
		return errs.WrapInvalid(fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; ")),
			"Config", "Validate", "check configuration")
	}
	return nil
}

// SerialConfig returns the transport configuration.
func (c Config) SerialConfig() serial.Config {
	return serial.Config{
		Device:      c.Port,
		BaudRate:    c.Baud,
		Delimiter:   c.Delimiter,
		ReadTimeout: c.ReadTimeout,
		Backend:     c.Backend,
	}
}

// PublisherOptions returns how topics deliver messages.
func (c Config) PublisherOptions() topic.PublisherOptions {
	return topic.PublisherOptions{QueueDepth: c.QueueDepth, Latched: c.Latched}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
