package bus

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/luhtfiimanal/go-serial-topics/topic"
)

var (
	// ErrInvalidName is returned when a topic name is not a valid graph name.
	ErrInvalidName = errors.New("bus: invalid topic name")
	// ErrBusClosed is returned by operations on a closed bus.
	ErrBusClosed = errors.New("bus: closed")
)

// DefaultQueueDepth is used for subscribers that attach before the topic is advertised.
const DefaultQueueDepth = 1

var graphName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_/]*$`)

// ValidName reports whether name is usable as a Memory topic name.
func ValidName(name string) bool {
	return graphName.MatchString(name)
}

// Memory is an in-process broadcast bus.
type Memory struct {
	mu     sync.Mutex
	topics map[string]*memTopic
	closed bool
}

type memTopic struct {
	name       string
	mu         sync.Mutex
	advertised bool
	opts       topic.PublisherOptions
	last       *string
	subs       map[*Subscription]struct{}
}

// Subscription receives messages published on one topic.
type Subscription struct {
	// C delivers messages. It is closed when the subscription or the bus is closed.
	C <-chan string

	ch    chan string
	topic *memTopic
	once  sync.Once
}

// NewMemory returns an empty bus.
func NewMemory() *Memory {
	return &Memory{topics: make(map[string]*memTopic)}
}

func (m *Memory) lookup(name string) (*memTopic, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrBusClosed
	}
	t, ok := m.topics[name]
	if !ok {
		t = &memTopic{name: name, subs: make(map[*Subscription]struct{})}
		m.topics[name] = t
	}
	return t, nil
}

// Advertise implements topic.Broker.
func (m *Memory) Advertise(name string, opts topic.PublisherOptions) (topic.Publisher, error) {
	if opts.QueueDepth < 1 {
		return nil, fmt.Errorf("bus: queue depth must be at least 1, got %d", opts.QueueDepth)
	}
	t, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.advertised = true
	t.opts = opts
	t.mu.Unlock()
	return t, nil
}

// Subscribe attaches a new subscriber to name. The topic does not need to be
// advertised yet. Messages published before the call are not delivered
// unless the topic is latched.
func (m *Memory) Subscribe(name string) (*Subscription, error) {
	t, err := m.lookup(name)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	depth := DefaultQueueDepth
	if t.advertised {
		depth = t.opts.QueueDepth
	}
	ch := make(chan string, depth)
	sub := &Subscription{C: ch, ch: ch, topic: t}
	t.subs[sub] = struct{}{}
	if t.opts.Latched && t.last != nil {
		ch <- *t.last
	}
	return sub, nil
}

// Topics returns the names of all advertised topics, sorted.
func (m *Memory) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.topics))
	for name, t := range m.topics {
		t.mu.Lock()
		if t.advertised {
			names = append(names, name)
		}
		t.mu.Unlock()
	}
	sort.Strings(names)
	return names
}

// Close closes every subscription. Later Advertise and Subscribe calls fail.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	topics := m.topics
	m.topics = make(map[string]*memTopic)
	m.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		for sub := range t.subs {
			sub.closeLocked()
		}
		t.mu.Unlock()
	}
	return nil
}

// Publish delivers payload to every current subscriber. A full subscriber
// queue loses its oldest message.
func (t *memTopic) Publish(payload string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opts.Latched {
		p := payload
		t.last = &p
	}
	for sub := range t.subs {
		select {
		case sub.ch <- payload:
			continue
		default:
		}
		// drop oldest
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

// Close detaches the subscriber and closes C. Safe to call multiple times.
func (s *Subscription) Close() {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		delete(s.topic.subs, s)
		close(s.ch)
	})
}
