// Package stream fans a provider's single event stream out to many
// subscribers.
//
// Provider streams are not restartable, so exactly one goroutine reads
// each source channel. Subscribers get bounded queues with the oldest
// event dropped under pressure, and can replay the recent history on
// attach.
package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jelmore/jelmore/pkg/provider"
)

const (
	// subscriberBuffer bounds each subscriber's pending queue.
	subscriberBuffer = 64

	// historyLimit bounds the replay snapshot.
	historyLimit = 256
)

// SentinelClosed marks the final event emitted before subscriber
// channels close.
const SentinelClosed = "closed"

// Observer is invoked synchronously for every source event, in stream
// order, before fan-out.
type Observer func(provider.StreamEvent)

// Multiplexer owns the single read of one provider stream.
type Multiplexer struct {
	sessionID string
	source    <-chan provider.StreamEvent
	observer  Observer

	mu      sync.Mutex
	subs    []*muxSub
	history []provider.StreamEvent
	closed  bool

	done     chan struct{}
	onClose  func()
	stopOnce sync.Once
}

type muxSub struct {
	ch   chan provider.StreamEvent
	once sync.Once
}

func (s *muxSub) close() {
	s.once.Do(func() { close(s.ch) })
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithObserver registers a synchronous per-event callback.
func WithObserver(fn Observer) Option {
	return func(m *Multiplexer) { m.observer = fn }
}

// WithOnClose registers a callback run once after the source stream
// ends and the sentinel has been delivered.
func WithOnClose(fn func()) Option {
	return func(m *Multiplexer) { m.onClose = fn }
}

// New creates a multiplexer and starts its read loop.
func New(sessionID string, source <-chan provider.StreamEvent, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		sessionID: sessionID,
		source:    source,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.run()
	return m
}

// Done closes when the source stream has ended and all subscribers
// were notified.
func (m *Multiplexer) Done() <-chan struct{} {
	return m.done
}

// Subscribe attaches a consumer. With replay, the retained history is
// queued ahead of live events. The channel closes after the stream
// ends; cancel detaches early.
func (m *Multiplexer) Subscribe(replay bool) (<-chan provider.StreamEvent, func()) {
	s := &muxSub{ch: make(chan provider.StreamEvent, subscriberBuffer)}

	m.mu.Lock()
	if replay {
		for _, ev := range m.history {
			s.offer(ev, m.sessionID)
		}
	}
	if m.closed {
		m.mu.Unlock()
		s.close()
		return s.ch, func() {}
	}
	m.subs = append(m.subs, s)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		for i, cur := range m.subs {
			if cur == s {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		s.close()
	}
	return s.ch, cancel
}

func (m *Multiplexer) run() {
	for ev := range m.source {
		if m.observer != nil {
			m.observer(ev)
		}
		m.fanOut(ev)
	}

	sentinel := provider.StreamEvent{
		Type:      provider.StreamSystem,
		Metadata:  map[string]string{"state": SentinelClosed},
		Timestamp: time.Now().UTC(),
	}
	m.fanOut(sentinel)

	m.mu.Lock()
	m.closed = true
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, s := range subs {
		s.close()
	}

	if m.onClose != nil {
		m.onClose()
	}
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Multiplexer) fanOut(ev provider.StreamEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, ev)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	for _, s := range m.subs {
		s.offer(ev, m.sessionID)
	}
}

// offer enqueues without blocking, dropping the oldest pending event
// when the queue is full. Callers hold the multiplexer lock, so the
// channel cannot close mid-send.
func (s *muxSub) offer(ev provider.StreamEvent, sessionID string) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
			select {
			case <-s.ch:
				log.Warn().Str("session_id", sessionID).Msg("Stream subscriber lagging, dropping oldest event")
			default:
			}
		}
	}
}
