package consumer

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ldacruz94/topiclog/internal/log"
)

// Group forwards appends and reads to topics by name. It keeps no committed
// offsets; the only state it holds is the set of topics it has opened, so
// two calls never open the same topic directory twice.
type Group struct {
	name   string
	config log.Config
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*log.Topic
	closed bool
}

// New creates a group whose topics live under c.Dir.
func New(name string, c log.Config) *Group {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		name:   name,
		config: c,
		logger: logger.Named("consumer").With(zap.String("group", name)),
		topics: make(map[string]*log.Topic),
	}
}

// Name returns the group name.
func (g *Group) Name() string {
	return g.name
}

// topic returns the open topic called name, loading it from disk on first
// use. With create set, a topic that does not exist yet is created.
func (g *Group) topic(name string, create bool) (*log.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, &log.Error{Op: "consumer", Topic: name, Kind: log.ErrClosed}
	}
	if t, ok := g.topics[name]; ok {
		return t, nil
	}

	t, err := log.Load(name, g.config)
	if errors.Is(err, log.ErrNotFound) && create {
		g.logger.Info("creating topic on first append", zap.String("topic", name))
		t, err = log.Create(name, g.config)
	}
	if err != nil {
		return nil, err
	}
	g.topics[name] = t
	return t, nil
}

// Append adds payload to topic, creating the topic if needed, and records
// the new next offset in the topic's metadata. It returns the next offset.
// A failed metadata write does not fail the append: the message is already
// stored and loading the topic recovers the offset from its segments.
func (g *Group) Append(topic string, payload []byte) (uint64, error) {
	t, err := g.topic(topic, true)
	if err != nil {
		return 0, err
	}
	next, err := t.Append(payload)
	if err != nil {
		g.logger.Error("append failed", zap.String("topic", topic), zap.Error(err))
		return 0, err
	}
	if err := t.PersistMetadata(); err != nil {
		g.logger.Warn("persisting metadata after append failed",
			zap.String("topic", topic), zap.Uint64("next_offset", next), zap.Error(err))
	}
	return next, nil
}

// Read returns the message at offset in topic.
func (g *Group) Read(topic string, offset uint64) (log.Message, error) {
	t, err := g.topic(topic, false)
	if err != nil {
		return log.Message{}, err
	}
	return t.Read(offset)
}

// Topics lists the names of the topics the group has open.
func (g *Group) Topics() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.topics))
	for name := range g.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every topic the group opened.
func (g *Group) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	var err error
	for _, t := range g.topics {
		err = multierr.Append(err, t.Close())
	}
	g.topics = nil
	return err
}
