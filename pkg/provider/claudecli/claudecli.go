// Package claudecli adapts the Claude Code command line tool to the
// provider contract. Each session is one subprocess invoked with
// --output-format stream-json; stdout is parsed line by line into
// stream events and stdin is used to deliver input while the process
// waits.
package claudecli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jelmore/jelmore/pkg/provider"
)

const (
	defaultBinary      = "claude"
	defaultMaxTurns    = 10
	defaultQueueSize   = 64
	terminateGrace     = 5 * time.Second
	healthProbeTimeout = 10 * time.Second
)

// Config holds adapter-level settings
type Config struct {
	Binary       string
	DefaultModel string
	MaxSessions  int
}

// Provider runs Claude Code CLI subprocesses
type Provider struct {
	cfg     Config
	handles map[string]*handle
	mu      sync.Mutex
}

// New creates a claude CLI provider
func New(cfg Config) *Provider {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10
	}
	return &Provider{
		cfg:     cfg,
		handles: make(map[string]*handle),
	}
}

type handle struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan provider.StreamEvent
	done   chan struct{}
	once   sync.Once
}

func (h *handle) ID() string { return h.id }

func (h *handle) Events() <-chan provider.StreamEvent { return h.events }

func (h *handle) closeEvents() {
	h.once.Do(func() {
		close(h.events)
		close(h.done)
	})
}

func (p *Provider) Name() string { return "claude" }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Streaming: true,
		ToolUse:   true,
		Suspend:   true,
		Models: []provider.ModelInfo{
			{Name: "claude-3-5-sonnet-20241022", Version: "3.5", ContextLength: 200000, MaxTokens: 8192},
			{Name: "claude-3-opus-20240229", Version: "3.0", ContextLength: 200000, MaxTokens: 4096},
			{Name: "claude-3-haiku-20240307", Version: "3.0", ContextLength: 200000, MaxTokens: 4096},
		},
		MaxConcurrentSessions: p.cfg.MaxSessions,
	}
}

// buildEnv extends the parent environment with per-session overrides.
// A nil result keeps exec's default of inheriting the parent
// environment unchanged.
func buildEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func (p *Provider) CreateSession(ctx context.Context, query string, cfg provider.SessionConfig) (provider.Handle, error) {
	if !p.Capabilities().SupportsModel(cfg.Model) {
		return nil, fmt.Errorf("%w: %s", provider.ErrModelNotSupported, cfg.Model)
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	args := []string{
		"--print", query,
		"--output-format", "stream-json",
		"--max-turns", strconv.Itoa(maxTurns),
	}
	model := cfg.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	if model != "" && model != "default" {
		args = append(args, "--model", model)
	}
	if cfg.SystemPrompt != "" {
		args = append(args, "--system", cfg.SystemPrompt)
	}

	cmd := exec.Command(p.cfg.Binary, args...)
	if cfg.WorkingDirectory != "" {
		cmd.Dir = cfg.WorkingDirectory
	}
	cmd.Env = buildEnv(cfg.Environment)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", provider.ErrProviderUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", provider.ErrProviderUnavailable, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
	}

	h := &handle{
		id:     uuid.New().String(),
		cmd:    cmd,
		stdin:  stdin,
		events: make(chan provider.StreamEvent, defaultQueueSize),
		done:   make(chan struct{}),
	}

	p.mu.Lock()
	p.handles[h.id] = h
	p.mu.Unlock()

	go p.pump(h, stdout)

	log.Info().
		Str("handle_id", h.id).
		Int("pid", cmd.Process.Pid).
		Str("model", model).
		Msg("Claude CLI session started")

	return h, nil
}

// pump reads stream-json lines from the subprocess and forwards them
// as stream events. Runs until stdout closes.
func (p *Provider) pump(h *handle, stdout io.Reader) {
	defer h.closeEvents()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ev, ok := parseLine(line)
		if !ok {
			// Non-JSON output still reaches subscribers as system text
			ev = provider.StreamEvent{
				Type:      provider.StreamSystem,
				Content:   string(line),
				Metadata:  map[string]string{"raw": "true"},
				Timestamp: time.Now().UTC(),
			}
		}

		select {
		case h.events <- ev:
		case <-h.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Str("handle_id", h.id).Err(err).Msg("Claude CLI stream read failed")
		select {
		case h.events <- provider.StreamEvent{
			Type:      provider.StreamError,
			Content:   err.Error(),
			Timestamp: time.Now().UTC(),
		}:
		case <-h.done:
		}
	}

	if err := h.cmd.Wait(); err != nil {
		log.Debug().Str("handle_id", h.id).Err(err).Msg("Claude CLI process exited with error")
	}
}

type streamLine struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
}

func parseLine(line []byte) (provider.StreamEvent, bool) {
	var sl streamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return provider.StreamEvent{}, false
	}

	ev := provider.StreamEvent{
		Content:   sl.Content,
		Timestamp: time.Now().UTC(),
	}

	switch sl.Type {
	case "system":
		ev.Type = provider.StreamSystem
	case "assistant":
		ev.Type = provider.StreamAssistant
	case "tool_use":
		ev.Type = provider.StreamToolUse
		ev.Content = string(sl.Input)
		ev.Metadata = map[string]string{"tool": sl.Name}
	case "tool_result":
		ev.Type = provider.StreamToolResult
	case "error":
		ev.Type = provider.StreamError
	default:
		ev.Type = provider.StreamSystem
		ev.Content = string(line)
	}

	return ev, true
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

	if _, err := io.WriteString(h.stdin, text+"\n"); err != nil {
		return fmt.Errorf("failed to write input: %w", err)
	}
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

	_ = h.stdin.Close()

	if h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(terminateSignal)

		select {
		case <-h.done:
		case <-time.After(terminateGrace):
			log.Warn().Str("handle_id", h.id).Msg("Claude CLI did not exit gracefully, killing")
			_ = h.cmd.Process.Kill()
		case <-ctx.Done():
			_ = h.cmd.Process.Kill()
		}
	}

	h.closeEvents()
	return nil
}

// Suspend captures a resumable state blob. Claude Code has no native
// suspension, so the blob records the session shape for a later
// --continue run.
func (p *Provider) Suspend(ctx context.Context, ph provider.Handle) ([]byte, error) {
	h, ok := p.lookup(ph)
	if !ok {
		return nil, provider.ErrInvalidHandleState
	}

	state := map[string]string{
		"handle_id":    h.id,
		"binary":       p.cfg.Binary,
		"suspended_at": time.Now().UTC().Format(time.RFC3339),
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal suspend state: %w", err)
	}

	if err := p.Terminate(ctx, ph); err != nil {
		return nil, err
	}
	return blob, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.cfg.Binary, "--version").Output()
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
	}

	log.Debug().Str("version", string(out)).Msg("Claude CLI health check passed")
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
