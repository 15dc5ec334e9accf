// Package openai adapts the OpenAI Chat Completions API to the
// provider contract, mirroring the anthropic adapter's turn-based
// conversation model.
package openai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"

	"github.com/jelmore/jelmore/pkg/provider"
)

const (
	defaultModel     = string(openai.ChatModelGPT4o)
	defaultTurnLimit = 10
	queueSize        = 64
	turnTimeout      = 2 * time.Minute
)

// Config holds adapter-level settings
type Config struct {
	APIKey      string
	MaxSessions int
}

// Provider runs conversations against the OpenAI Chat Completions API
type Provider struct {
	client  openai.Client
	cfg     Config
	handles map[string]*handle
	mu      sync.Mutex
}

// New creates an OpenAI API provider
func New(cfg Config) *Provider {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &Provider{
		client:  openai.NewClient(opts...),
		cfg:     cfg,
		handles: make(map[string]*handle),
	}
}

type handle struct {
	id        string
	model     string
	turnsLeft int
	messages  []openai.ChatCompletionMessageParamUnion
	events    chan provider.StreamEvent
	done      chan struct{}
	once      sync.Once
	mu        sync.Mutex
}

func (h *handle) ID() string { return h.id }

func (h *handle) Events() <-chan provider.StreamEvent { return h.events }

func (h *handle) close() {
	h.once.Do(func() {
		close(h.events)
		close(h.done)
	})
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Streaming: true,
		ToolUse:   true,
		Models: []provider.ModelInfo{
			{Name: string(openai.ChatModelGPT4o), ContextLength: 128000},
			{Name: string(openai.ChatModelGPT4oMini), ContextLength: 128000},
		},
		MaxConcurrentSessions: p.cfg.MaxSessions,
	}
}

func (p *Provider) CreateSession(ctx context.Context, query string, cfg provider.SessionConfig) (provider.Handle, error) {
	if !p.Capabilities().SupportsModel(cfg.Model) {
		return nil, fmt.Errorf("%w: %s", provider.ErrModelNotSupported, cfg.Model)
	}

	model := cfg.Model
	if model == "" || model == "default" {
		model = defaultModel
	}
	turns := cfg.MaxTurns
	if turns <= 0 {
		turns = defaultTurnLimit
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if cfg.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(cfg.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(query))

	h := &handle{
		id:        uuid.New().String(),
		model:     model,
		turnsLeft: turns,
		messages:  messages,
		events:    make(chan provider.StreamEvent, queueSize),
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	p.handles[h.id] = h
	p.mu.Unlock()

	go p.runTurn(h)

	log.Info().Str("handle_id", h.id).Str("model", model).Msg("OpenAI session started")
	return h, nil
}

func (p *Provider) runTurn(h *handle) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	h.mu.Lock()
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(h.model),
		Messages: h.messages,
	}
	h.mu.Unlock()

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		p.emit(h, provider.StreamEvent{
			Type:      provider.StreamError,
			Content:   err.Error(),
			Timestamp: time.Now().UTC(),
		})
		h.close()
		return
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	p.emit(h, provider.StreamEvent{
		Type:      provider.StreamAssistant,
		Content:   text,
		Timestamp: time.Now().UTC(),
	})

	h.mu.Lock()
	h.messages = append(h.messages, openai.AssistantMessage(text))
	h.turnsLeft--
	remaining := h.turnsLeft
	h.mu.Unlock()

	if remaining <= 0 {
		h.close()
		return
	}

	p.emit(h, provider.StreamEvent{
		Type:      provider.StreamSystem,
		Content:   "awaiting input",
		Metadata:  map[string]string{"state": provider.StateWaitingInput},
		Timestamp: time.Now().UTC(),
	})
}

func (p *Provider) emit(h *handle, ev provider.StreamEvent) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (p *Provider) SendInput(ctx context.Context, ph provider.Handle, text string) error {
	h, ok := p.lookup(ph)
	if !ok {
		return provider.ErrInvalidHandleState
	}

	select {
	case <-h.done:
		return provider.ErrInvalidHandleState
	default:
	}

	h.mu.Lock()
	h.messages = append(h.messages, openai.UserMessage(text))
	h.mu.Unlock()

	go p.runTurn(h)
	return nil
}

func (p *Provider) Terminate(ctx context.Context, ph provider.Handle) error {
	h, ok := p.lookup(ph)
	if !ok {
		return nil
	}

	p.mu.Lock()
	delete(p.handles, h.id)
	p.mu.Unlock()

	h.close()
	return nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	if p.cfg.APIKey == "" {
		return fmt.Errorf("%w: missing API key", provider.ErrProviderUnavailable)
	}
	return nil
}

func (p *Provider) lookup(ph provider.Handle) (*handle, bool) {
	if ph == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[ph.ID()]
	return h, ok
}
