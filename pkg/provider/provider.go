package provider

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProviderUnavailable is returned when the backend cannot be
	// reached or refuses new sessions.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrModelNotSupported is returned when the requested model is not
	// offered by the provider.
	ErrModelNotSupported = errors.New("model not supported")

	// ErrNotSupported is returned when an optional operation is invoked
	// on a provider whose capabilities do not declare it.
	ErrNotSupported = errors.New("operation not supported by provider")

	// ErrInvalidHandleState is returned when an operation is misapplied
	// to the handle's current state, e.g. input while not waiting.
	ErrInvalidHandleState = errors.New("invalid handle state")
)

// ModelInfo describes one model offered by a provider
type ModelInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
	MaxTokens     int    `json:"max_tokens,omitempty"`
}

// Capabilities declares what a provider supports. Pure data; callers
// must consult it before invoking optional operations.
type Capabilities struct {
	Streaming             bool        `json:"streaming"`
	ToolUse               bool        `json:"tool_use"`
	Suspend               bool        `json:"suspend"`
	Models                []ModelInfo `json:"models"`
	MaxConcurrentSessions int         `json:"max_concurrent_sessions"`
}

// SupportsModel reports whether the named model is offered
func (c Capabilities) SupportsModel(name string) bool {
	if name == "" || name == "default" {
		return true
	}
	for _, m := range c.Models {
		if m.Name == name {
			return true
		}
	}
	return false
}

// StreamEventType classifies stream events
type StreamEventType string

const (
	StreamSystem     StreamEventType = "system"
	StreamAssistant  StreamEventType = "assistant"
	StreamToolUse    StreamEventType = "tool_use"
	StreamToolResult StreamEventType = "tool_result"
	StreamError      StreamEventType = "error"
)

// StateWaitingInput marks a system stream event signalling that the
// provider-side session is blocked on caller input. Carried in the
// event's "state" metadata key.
const StateWaitingInput = "waiting_input"

// StreamEvent is one element of a session's output stream
type StreamEvent struct {
	Type      StreamEventType   `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// SessionConfig carries per-session options passed to CreateSession
type SessionConfig struct {
	Model            string            `json:"model,omitempty"`
	MaxTurns         int               `json:"max_turns,omitempty"`
	Timeout          time.Duration     `json:"timeout,omitempty"`
	SystemPrompt     string            `json:"system_prompt,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
}

// Handle is a live reference to one provider-side session. The stream
// returned by Events is lazy, finite, and non-restartable: it must be
// consumed by exactly one reader.
type Handle interface {
	// ID is an opaque correlation id for the provider-side session
	ID() string

	// Events returns the output stream channel. Closed when the
	// provider-side session ends.
	Events() <-chan StreamEvent
}

// Provider is the uniform contract over one execution backend
type Provider interface {
	// Name identifies the provider in the registry
	Name() string

	// Capabilities declares supported operations. Pure.
	Capabilities() Capabilities

	// CreateSession starts a provider-side session for the query and
	// returns a live handle. Fails with ErrProviderUnavailable or
	// ErrModelNotSupported.
	CreateSession(ctx context.Context, query string, cfg SessionConfig) (Handle, error)

	// SendInput delivers text to a session that is waiting for input or
	// active. Fails with ErrInvalidHandleState otherwise.
	SendInput(ctx context.Context, h Handle, text string) error

	// Terminate releases all resources held by the handle. Idempotent.
	Terminate(ctx context.Context, h Handle) error

	// HealthCheck probes the backend. Implementations bound their own
	// timeout.
	HealthCheck(ctx context.Context) error
}

// Suspender is the optional suspend capability. Only call when
// Capabilities().Suspend is true.
type Suspender interface {
	// Suspend captures a resumable state blob and releases the live
	// session.
	Suspend(ctx context.Context, h Handle) ([]byte, error)
}
