package session

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a session id is unknown
var ErrNotFound = errors.New("session not found")

// ValidationError reports bad caller input such as an unknown provider
// or model. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateError reports an illegal state-machine transition or an
// operation misapplied to the current status.
type InvalidStateError struct {
	SessionID string
	From      Status
	To        Status
	Op        string
}

func (e *InvalidStateError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("session %s: %s not allowed in status %s", e.SessionID, e.Op, e.From)
	}
	return fmt.Sprintf("session %s: illegal transition %s -> %s", e.SessionID, e.From, e.To)
}

// ProviderError captures a failure reported by a provider adapter. The
// session moves to FAILED with the detail persisted; callers create a
// new session rather than retrying.
type ProviderError struct {
	Provider  string
	SessionID string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DependencyUnavailable reports that a dependency's circuit breaker is
// open or its retry budget is exhausted.
type DependencyUnavailable struct {
	Dependency string
	Err        error
}

func (e *DependencyUnavailable) Error() string {
	return fmt.Sprintf("dependency %s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyUnavailable) Unwrap() error { return e.Err }
