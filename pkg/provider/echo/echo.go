// Package echo implements a deterministic provider that echoes the
// initial query (and any delivered input) back as assistant output.
// It backs integration tests and local smoke runs where no real
// execution backend is available.
package echo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jelmore/jelmore/pkg/provider"
)

const defaultQueueSize = 16

// Provider echoes session input back as output
type Provider struct {
	closeAfterEcho bool
	handles        map[string]*handle
	mu             sync.Mutex
}

// Option configures the echo provider
type Option func(*Provider)

// WithOpenStream keeps the stream open after echoing the initial
// query, so tests can drive SendInput before termination.
func WithOpenStream() Option {
	return func(p *Provider) {
		p.closeAfterEcho = false
	}
}

// New creates an echo provider. By default the stream closes right
// after the initial query is echoed.
func New(opts ...Option) *Provider {
	p := &Provider{
		closeAfterEcho: true,
		handles:        make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type handle struct {
	id     string
	events chan provider.StreamEvent

	mu     sync.Mutex
	closed bool
}

func (h *handle) ID() string { return h.id }

func (h *handle) Events() <-chan provider.StreamEvent { return h.events }

func (h *handle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.events)
}

// send queues one event, holding the handle lock so a concurrent close
// cannot slip between the liveness check and the channel write.
func (h *handle) send(ctx context.Context, ev provider.StreamEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return provider.ErrInvalidHandleState
	}
	select {
	case h.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) Name() string { return "echo" }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Streaming:             true,
		Models:                []provider.ModelInfo{ModelList()},
		MaxConcurrentSessions: 32,
	}
}

// ModelList returns the single synthetic model the echo provider offers
func ModelList() provider.ModelInfo {
	return provider.ModelInfo{Name: "echo-1", Version: "1"}
}

func (p *Provider) CreateSession(ctx context.Context, query string, cfg provider.SessionConfig) (provider.Handle, error) {
	if !p.Capabilities().SupportsModel(cfg.Model) {
		return nil, provider.ErrModelNotSupported
	}

	h := &handle{
		id:     uuid.New().String(),
		events: make(chan provider.StreamEvent, defaultQueueSize),
	}

	p.mu.Lock()
	p.handles[h.id] = h
	p.mu.Unlock()

	h.events <- provider.StreamEvent{
		Type:      provider.StreamAssistant,
		Content:   query,
		Timestamp: time.Now().UTC(),
	}
	if p.closeAfterEcho {
		h.close()
	}

	log.Debug().Str("handle_id", h.id).Msg("Echo session created")
	return h, nil
}

func (p *Provider) SendInput(ctx context.Context, ph provider.Handle, text string) error {
	h, ok := p.lookup(ph)
	if !ok {
		return provider.ErrInvalidHandleState
	}

	return h.send(ctx, provider.StreamEvent{
		Type:      provider.StreamAssistant,
		Content:   text,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Provider) Terminate(ctx context.Context, ph provider.Handle) error {
	h, ok := p.lookup(ph)
	if !ok {
		return nil
	}

	h.close()

	p.mu.Lock()
	delete(p.handles, h.id)
	p.mu.Unlock()

	return nil
}

func (p *Provider) HealthCheck(ctx context.Context) error { return nil }

func (p *Provider) lookup(ph provider.Handle) (*handle, bool) {
	if ph == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[ph.ID()]
	return h, ok
}
