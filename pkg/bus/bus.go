// Package bus provides in-process publish/subscribe for session events.
//
// Delivery is asynchronous and best effort. Publishers never block on
// slow subscribers; a subscriber whose queue is full loses the oldest
// pending event first.
package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jelmore/jelmore/pkg/session"
)

// TopicSessionEvents carries all session lifecycle and activity events.
const TopicSessionEvents = "session.events"

// subscriberBuffer bounds the per-subscriber queue.
const subscriberBuffer = 128

// EventBus distributes session events to interested consumers.
type EventBus interface {
	// Publish delivers the event to every current subscriber of topic.
	Publish(ctx context.Context, topic string, ev session.Event) error

	// Subscribe registers a consumer. The returned channel closes when
	// cancel is called or the bus shuts down.
	Subscribe(topic string) (<-chan session.Event, func())

	// Close shuts the bus down and closes all subscriber channels.
	Close() error
}

type subscriber struct {
	ch   chan session.Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// InProcessBus implements EventBus with per-topic subscriber lists.
type InProcessBus struct {
	mu     sync.RWMutex
	topics map[string][]*subscriber
	closed bool
	onDrop func()
}

// Option configures an InProcessBus.
type Option func(*InProcessBus)

// WithDropHook registers a callback invoked once per dropped event.
func WithDropHook(fn func()) Option {
	return func(b *InProcessBus) {
		b.onDrop = fn
	}
}

// NewInProcessBus creates an empty bus.
func NewInProcessBus(opts ...Option) *InProcessBus {
	b := &InProcessBus{topics: make(map[string][]*subscriber)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish fans the event out without blocking. When a subscriber's
// queue is full the oldest queued event is dropped to make room.
func (b *InProcessBus) Publish(ctx context.Context, topic string, ev session.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Holding the read lock keeps subscriber channels open for the
	// whole fan-out; cancel and Close take the write lock.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	for _, s := range b.topics[topic] {
		for {
			select {
			case s.ch <- ev:
			default:
				select {
				case dropped := <-s.ch:
					log.Warn().
						Str("topic", topic).
						Str("event_id", dropped.ID).
						Str("session_id", dropped.SessionID).
						Msg("Subscriber queue full, dropping oldest event")
					if b.onDrop != nil {
						b.onDrop()
					}
				default:
				}
				continue
			}
			break
		}
	}
	return nil
}

// Subscribe registers a consumer on topic.
func (b *InProcessBus) Subscribe(topic string) (<-chan session.Event, func()) {
	s := &subscriber{ch: make(chan session.Event, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.close()
		return s.ch, func() {}
	}
	b.topics[topic] = append(b.topics[topic], s)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		subs := b.topics[topic]
		for i, cur := range subs {
			if cur == s {
				b.topics[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		s.close()
	}
	return s.ch, cancel
}

// Close shuts down the bus. Further publishes are discarded.
func (b *InProcessBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, s := range subs {
			s.close()
		}
	}
	b.topics = make(map[string][]*subscriber)
	return nil
}
