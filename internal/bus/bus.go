// Package bus is the in-process asynchronous publish/subscribe fabric used
// for cross-cutting observability of pipeline stage transitions. Publishers
// never block on subscribers and a faulty handler cannot affect delivery to
// the others.
package bus

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives the concrete topic the event was published on, which may
// be more specific than the subscribed pattern.
type Handler func(topic string, data any)

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Pattern returns the topic pattern this subscription was registered with.
func (s *Subscription) Pattern() string { return s.pattern }

// delivery is one published event paired with the subscribers matched at
// publish time.
type delivery struct {
	subs  []*Subscription
	topic string
	data  any
}

// Bus dispatches published events to matching subscribers. All methods are
// safe for concurrent use from any connection's processing path.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []*Subscription // registration order
	closed bool
	queue  chan delivery
	done   chan struct{}
	log    zerolog.Logger
}

// DefaultBufferSlots applies when New is given a non-positive buffer size.
const DefaultBufferSlots = 64

// New returns an empty bus whose delivery queue holds up to bufferSlots
// pending events. Publishers never block; an event published while the
// queue is full is dropped with a warning.
func New(log zerolog.Logger, bufferSlots int) *Bus {
	if bufferSlots <= 0 {
		bufferSlots = DefaultBufferSlots
	}
	b := &Bus{
		queue: make(chan delivery, bufferSlots),
		done:  make(chan struct{}),
		log:   log.With().Str("component", "bus").Logger(),
	}
	go b.dispatch()
	return b
}

// dispatch drains the delivery queue on a single goroutine, preserving
// publish order across topics.
func (b *Bus) dispatch() {
	defer close(b.done)
	for d := range b.queue {
		for _, s := range d.subs {
			b.invoke(s, d.topic, d.data)
		}
	}
}

// Subscribe registers a handler for every topic matching pattern. Handlers
// subscribed to the same topic are invoked in registration order.
func (b *Bus) Subscribe(pattern string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, pattern: pattern, handler: h}
	b.subs = append(b.subs, sub)
	b.log.Debug().Str("pattern", pattern).Uint64("id", sub.id).Msg("subscribed")
	return sub
}

// Unsubscribe removes a subscription. Unsubscribing twice is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == sub.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			b.log.Debug().Str("pattern", s.pattern).Uint64("id", s.id).Msg("unsubscribed")
			return
		}
	}
}

// Publish delivers data to every subscriber whose pattern matches topic.
// It returns immediately; delivery happens on the dispatch goroutine, in
// publish order, then subscription-registration order, with handler panics
// contained.
func (b *Bus) Publish(topic string, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	var matched []*Subscription
	for _, s := range b.subs {
		if MatchTopic(s.pattern, topic) {
			matched = append(matched, s)
		}
	}
	if len(matched) == 0 {
		return
	}
	select {
	case b.queue <- delivery{subs: matched, topic: topic, data: data}:
	default:
		b.log.Warn().Str("topic", topic).Msg("delivery queue full, event dropped")
	}
}

func (b *Bus) invoke(s *Subscription, topic string, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("pattern", s.pattern).
				Str("topic", topic).
				Interface("panic", r).
				Msg("subscriber panicked")
		}
	}()
	s.handler(topic, data)
}

// Close stops accepting publishes and waits for queued deliveries to drain.
// Closing twice is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	<-b.done
}

// MatchTopic reports whether a dot-separated topic matches a subscription
// pattern. A pattern ending in a "*" segment matches any topic sharing its
// prefix ("decision.*" matches "decision.received" and deeper topics); a
// bare "*" matches everything; any other pattern requires exact equality.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if pattern == "*" {
		return topic != ""
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := pattern[:len(pattern)-1] // keep the trailing dot
		return strings.HasPrefix(topic, prefix) && len(topic) > len(prefix)
	}
	return false
}
