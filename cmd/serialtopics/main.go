// Command serialtopics reads sentences from a serial port and republishes
// each one on a topic named after its first comma-separated field.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	serial "github.com/luhtfiimanal/go-serial-topics"
	"github.com/luhtfiimanal/go-serial-topics/bus"
	"github.com/luhtfiimanal/go-serial-topics/internal/config"
	"github.com/luhtfiimanal/go-serial-topics/internal/errs"
	"github.com/luhtfiimanal/go-serial-topics/internal/metrics"
	"github.com/luhtfiimanal/go-serial-topics/node"
	"github.com/luhtfiimanal/go-serial-topics/topic"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitPortOpen = 2
)

var errPortOpen = errors.New("could not open the port")

type opener func(serial.Config) (serial.LineReader, error)

func main() {
	os.Exit(execute(os.Args[1:], serial.Open, os.Stderr))
}

func execute(args []string, open opener, stderr io.Writer) int {
	cmd := newRootCmd(open)
	cmd.SetArgs(args)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		if errs.IsInvalid(err) {
			fmt.Fprint(stderr, cmd.UsageString())
		}
		if errors.Is(err, errPortOpen) {
			return exitPortOpen
		}
		return exitFailure
	}
	return exitOK
}

func newRootCmd(open opener) *cobra.Command {
	var (
		configPath string
		overrides  = config.Default()
	)

	cmd := &cobra.Command{
		Use:           "serialtopics",
		Short:         "Route serial sentences to per-type topics",
		Long:          `serialtopics reads newline-terminated sentences from a serial port and publishes each one on a topic named serial_<ID>, where ID is the sentence's first comma-separated field without '$' or '%'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, overrides)
			if err := cfg.Validate(); err != nil {
				return err
			}

			level, _ := config.ParseLevel(cfg.LogLevel)
			logger := newLogger(cmd.ErrOrStderr(), level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger, open)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	f.StringVarP(&overrides.Port, "port", "p", overrides.Port, "serial port path")
	f.IntVarP(&overrides.Baud, "baud", "b", overrides.Baud, "serial baud rate")
	f.Float64VarP(&overrides.RateHz, "rate", "r", overrides.RateHz, "loop rate in Hz")
	f.StringVar(&overrides.Backend, "backend", overrides.Backend, "serial backend: termios or portable")
	f.StringVar(&overrides.Delimiter, "delimiter", overrides.Delimiter, "line delimiter")
	f.DurationVar(&overrides.ReadTimeout, "read-timeout", overrides.ReadTimeout, "maximum wait for one line")
	f.StringVar(&overrides.LogLevel, "log-level", overrides.LogLevel, "log level: debug, info, warn, error")
	f.StringVar(&overrides.MetricsAddr, "metrics-addr", overrides.MetricsAddr, "serve Prometheus metrics on this address")
	f.IntVar(&overrides.QueueDepth, "queue-depth", overrides.QueueDepth, "messages kept per subscriber")
	f.BoolVar(&overrides.Latched, "latched", overrides.Latched, "replay the last message to late subscribers (memory bus only)")
	f.StringVar(&overrides.Bus.Kind, "bus", overrides.Bus.Kind, "bus: memory or nats")
	f.StringVar(&overrides.Bus.NATSURL, "nats-url", overrides.Bus.NATSURL, "NATS server URL")
	f.StringVar(&overrides.Bus.SubjectPrefix, "subject-prefix", overrides.Bus.SubjectPrefix, "prefix for NATS subjects")
	return cmd
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config, o config.Config) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("port", func() { cfg.Port = o.Port })
	set("baud", func() { cfg.Baud = o.Baud })
	set("rate", func() { cfg.RateHz = o.RateHz })
	set("backend", func() { cfg.Backend = o.Backend })
	set("delimiter", func() { cfg.Delimiter = o.Delimiter })
	set("read-timeout", func() { cfg.ReadTimeout = o.ReadTimeout })
	set("log-level", func() { cfg.LogLevel = o.LogLevel })
	set("metrics-addr", func() { cfg.MetricsAddr = o.MetricsAddr })
	set("queue-depth", func() { cfg.QueueDepth = o.QueueDepth })
	set("latched", func() { cfg.Latched = o.Latched })
	set("bus", func() { cfg.Bus.Kind = o.Bus.Kind })
	set("nats-url", func() { cfg.Bus.NATSURL = o.Bus.NATSURL })
	set("subject-prefix", func() { cfg.Bus.SubjectPrefix = o.Bus.SubjectPrefix })
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

type broker interface {
	topic.Broker
	Close() error
}

func newBroker(cfg config.Config, logger *slog.Logger) (broker, error) {
	if cfg.Bus.Kind == config.BusNATS {
		n, err := bus.ConnectNATS(cfg.Bus.NATSURL, cfg.Bus.ClientName,
			bus.WithSubjectPrefix(cfg.Bus.SubjectPrefix),
			bus.WithNATSLogger(logger))
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	return bus.NewMemory(), nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, open opener) error {
	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	reader, err := open(cfg.SerialConfig())
	if err != nil {
		logger.Debug(fmt.Sprintf("could not open the port <%s>", cfg.Port), "error", err)
		return fmt.Errorf("%w <%s>: %w", errPortOpen, cfg.Port, err)
	}
	defer reader.Close()

	b, err := newBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	// unblock a pending read on shutdown
	go func() {
		<-ctx.Done()
		reader.Close()
	}()

	logger.Info("reading serial sentences",
		"port", cfg.Port, "baud", cfg.Baud, "rate_hz", cfg.RateHz, "bus", cfg.Bus.Kind)

	reg := topic.NewRegistry(b,
		topic.WithLogger(logger),
		topic.WithMetrics(m),
		topic.WithPublisherOptions(cfg.PublisherOptions()))
	n := node.New(reader, reg,
		node.WithRate(cfg.RateHz),
		node.WithLogger(logger),
		node.WithMetrics(m))
	if err := n.Run(ctx); err != nil {
		logger.Error("stopping", "error", err)
		return err
	}
	logger.Info("shutdown complete", "topics", reg.Len())
	return nil
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}
