package session

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a session
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusWaitingInput Status = "waiting_input"
	StatusTerminated   Status = "terminated"
	StatusFailed       Status = "failed"
)

// IsTerminal reports whether the status is absorbing
func (s Status) IsTerminal() bool {
	return s == StatusTerminated || s == StatusFailed
}

// Valid reports whether the status is a known lifecycle state
func (s Status) Valid() bool {
	switch s {
	case StatusInitializing, StatusActive, StatusIdle, StatusWaitingInput, StatusTerminated, StatusFailed:
		return true
	}
	return false
}

// MaxOutputBuffer is the ceiling on buffered output bytes kept on the
// session itself. Older output is truncated from the front; full
// history, if retained, lives only in the durable store.
const MaxOutputBuffer = 64 * 1024

// Session represents one managed lifecycle of an external AI-assistant
// execution. Mutated only through the registry.
type Session struct {
	ID               string            `json:"id"`
	Status           Status            `json:"status"`
	Query            string            `json:"query"`
	ProviderName     string            `json:"provider_name"`
	ProcessHandle    string            `json:"process_handle,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	OutputBuffer     string            `json:"output_buffer,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ErrorDetail      string            `json:"error_detail,omitempty"`
	TerminateReason  string            `json:"terminate_reason,omitempty"`
	Version          int64             `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	LastActivityAt   time.Time         `json:"last_activity_at"`
	TerminatedAt     *time.Time        `json:"terminated_at,omitempty"`
}

// New creates a session in the INITIALIZING state
func New(query, providerName string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             uuid.New().String(),
		Status:         StatusInitializing,
		Query:          query,
		ProviderName:   providerName,
		Metadata:       make(map[string]string),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	c := *s
	c.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		c.Metadata[k] = v
	}
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		c.TerminatedAt = &t
	}
	return &c
}

// Touch updates the activity and update timestamps
func (s *Session) Touch() {
	now := time.Now().UTC()
	s.UpdatedAt = now
	s.LastActivityAt = now
}

// AppendOutput appends a chunk to the output buffer, truncating from
// the front past the size ceiling.
func (s *Session) AppendOutput(chunk string) {
	s.OutputBuffer += chunk
	if len(s.OutputBuffer) > MaxOutputBuffer {
		s.OutputBuffer = s.OutputBuffer[len(s.OutputBuffer)-MaxOutputBuffer:]
	}
}

// Summary is the outward-facing view of a session, mirroring the
// session fields minus internal adapter handles.
type Summary struct {
	ID               string            `json:"id"`
	Status           Status            `json:"status"`
	Query            string            `json:"query"`
	ProviderName     string            `json:"provider_name"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	OutputSize       int               `json:"output_size"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ErrorDetail      string            `json:"error_detail,omitempty"`
	TerminateReason  string            `json:"terminate_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	LastActivityAt   time.Time         `json:"last_activity_at"`
	TerminatedAt     *time.Time        `json:"terminated_at,omitempty"`
}

// Summarize returns the outward-facing view of the session
func (s *Session) Summarize() Summary {
	return Summary{
		ID:               s.ID,
		Status:           s.Status,
		Query:            s.Query,
		ProviderName:     s.ProviderName,
		WorkingDirectory: s.WorkingDirectory,
		OutputSize:       len(s.OutputBuffer),
		Metadata:         s.Metadata,
		ErrorDetail:      s.ErrorDetail,
		TerminateReason:  s.TerminateReason,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		LastActivityAt:   s.LastActivityAt,
		TerminatedAt:     s.TerminatedAt,
	}
}
