// Package anthropic adapts the Anthropic Messages API to the provider
// contract. Each session holds a conversation; every delivered input
// runs one more turn against the API, and the handle signals
// waiting-for-input between turns.
package anthropic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jelmore/jelmore/pkg/provider"
)

const (
	defaultModel     = string(anthropic.Model("claude-3-5-sonnet-20241022"))
	defaultMaxTokens = 4096
	defaultTurnLimit = 10
	queueSize        = 64
	turnTimeout      = 2 * time.Minute
)

// Config holds adapter-level settings
type Config struct {
	APIKey      string
	MaxSessions int
}

// Provider runs conversations against the Anthropic Messages API
type Provider struct {
	client  anthropic.Client
	cfg     Config
	handles map[string]*handle
	mu      sync.Mutex
}

// New creates an Anthropic API provider
func New(cfg Config) *Provider {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &Provider{
		client:  anthropic.NewClient(opts...),
		cfg:     cfg,
		handles: make(map[string]*handle),
	}
}

type handle struct {
	id        string
	model     string
	system    string
	turnsLeft int
	messages  []anthropic.MessageParam
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

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Streaming: true,
		ToolUse:   true,
		Models: []provider.ModelInfo{
			{Name: string(anthropic.Model("claude-3-5-sonnet-20241022")), ContextLength: 200000, MaxTokens: 8192},
			{Name: string(anthropic.ModelClaude3_5Haiku20241022), ContextLength: 200000, MaxTokens: 8192},
			{Name: string(anthropic.ModelClaude3OpusLatest), ContextLength: 200000, MaxTokens: 4096},
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

	h := &handle{
		id:        uuid.New().String(),
		model:     model,
		system:    cfg.SystemPrompt,
		turnsLeft: turns,
		messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
		},
		events: make(chan provider.StreamEvent, queueSize),
		done:   make(chan struct{}),
	}

	p.mu.Lock()
	p.handles[h.id] = h
	p.mu.Unlock()

	go p.runTurn(h)

	log.Info().Str("handle_id", h.id).Str("model", model).Msg("Anthropic session started")
	return h, nil
}

// runTurn executes one Messages API call and emits the response as
// stream events. Ends the stream when the turn budget is spent.
func (p *Provider) runTurn(h *handle) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	h.mu.Lock()
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(h.model),
		Messages:  h.messages,
		MaxTokens: defaultMaxTokens,
	}
	if h.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: h.system}}
	}
	h.mu.Unlock()

	resp, err := p.client.Messages.New(ctx, params)
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
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
			p.emit(h, provider.StreamEvent{
				Type:      provider.StreamAssistant,
				Content:   b.Text,
				Timestamp: time.Now().UTC(),
			})
		case anthropic.ToolUseBlock:
			p.emit(h, provider.StreamEvent{
				Type:      provider.StreamToolUse,
				Content:   b.JSON.Input.Raw(),
				Metadata:  map[string]string{"tool": b.Name},
				Timestamp: time.Now().UTC(),
			})
		}
	}

	h.mu.Lock()
	h.messages = append(h.messages, anthropic.MessageParam{
		Role: anthropic.MessageParamRoleAssistant,
		Content: []anthropic.ContentBlockParamUnion{
			anthropic.NewTextBlock(text),
		},
	})
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
	h.messages = append(h.messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
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
