// Package topic owns the table of output topics, one per sentence identifier.
//
// Topics are advertised on first sight of an identifier and reused for every
// later sentence with the same identifier. They are never closed individually.
package topic

import (
	"log/slog"
	"sync"

	"github.com/luhtfiimanal/go-serial-topics/internal/errs"
	"github.com/luhtfiimanal/go-serial-topics/internal/metrics"
	"github.com/luhtfiimanal/go-serial-topics/sentence"
)

// NamePrefix is prepended to the identifier to form a topic name.
const NamePrefix = "serial_"

// Name returns the topic name for identifier id.
func Name(id string) string {
	return NamePrefix + id
}

// PublisherOptions describe how a topic delivers messages.
type PublisherOptions struct {
	// QueueDepth is the number of undelivered messages kept per subscriber.
	QueueDepth int
	// Latched topics replay the last message to late subscribers.
	Latched bool
}

// DefaultPublisherOptions keeps only the newest message and does not latch.
func DefaultPublisherOptions() PublisherOptions {
	return PublisherOptions{QueueDepth: 1, Latched: false}
}

// Publisher sends payloads on one named topic.
type Publisher interface {
	Publish(payload string) error
}

// Broker creates publishers. Advertise fails only when the broker rejects
// the topic itself, for example because of an invalid name.
type Broker interface {
	Advertise(name string, opts PublisherOptions) (Publisher, error)
}

// Registry routes payloads to a per-identifier publisher, advertising it on
// first use. It is safe for concurrent use.
type Registry struct {
	broker     Broker
	opts       PublisherOptions
	logger     *slog.Logger
	metrics    *metrics.Metrics
	mu         sync.Mutex
	publishers map[string]Publisher
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records topic creation and publish counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithPublisherOptions overrides DefaultPublisherOptions.
func WithPublisherOptions(opts PublisherOptions) Option {
	return func(r *Registry) { r.opts = opts }
}

// NewRegistry returns an empty Registry publishing through broker.
func NewRegistry(broker Broker, opts ...Option) *Registry {
	r := &Registry{
		broker:     broker,
		opts:       DefaultPublisherOptions(),
		logger:     slog.Default(),
		publishers: make(map[string]Publisher),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch publishes payload on the topic for id.
//
// Nothing happens unless both id and payload are present and non-empty. A
// broker that refuses to advertise the topic yields a fatal error; a failed
// publish only drops this payload.
func (r *Registry) Dispatch(id, payload sentence.Field) error {
	if !id.Present() || !payload.Present() {
		r.logger.Debug("problem publishing serial string - maybe empty",
			"id_present", id.Present(), "payload_present", payload.Present())
		r.metrics.LineDropped("empty")
		return nil
	}

	pub, err := r.publisher(id.Value)
	if err != nil {
		return err
	}

	name := Name(id.Value)
	if err := pub.Publish(payload.Value); err != nil {
		r.logger.Debug("publish failed, dropping payload", "topic", name, "error", err)
		r.metrics.PublishFailed(name)
		return nil
	}
	r.metrics.Published(name)
	return nil
}

// publisher returns the publisher for id, advertising it on first use.
func (r *Registry) publisher(id string) (Publisher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pub, ok := r.publishers[id]; ok {
		return pub, nil
	}

	name := Name(id)
	pub, err := r.broker.Advertise(name, r.opts)
	if err != nil {
		return nil, errs.WrapFatal(err, "Registry", "Dispatch", "advertise topic "+name)
	}
	r.publishers[id] = pub
	r.metrics.TopicCreated()
	r.logger.Info("advertised topic", "topic", name,
		"queue_depth", r.opts.QueueDepth, "latched", r.opts.Latched)
	return pub, nil
}

// Len returns the number of topics advertised so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.publishers)
}
