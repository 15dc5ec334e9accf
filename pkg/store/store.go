package store

import (
	"context"
	"errors"
	"time"

	"github.com/jelmore/jelmore/pkg/session"
)

// ErrVersionConflict is returned by conditional writes when the stored
// version does not match the caller's expectation.
var ErrVersionConflict = errors.New("version conflict")

// ErrNotFound is returned when a key or id is absent
var ErrNotFound = errors.New("not found")

// Filter narrows session queries
type Filter struct {
	Statuses     []session.Status
	Provider     string
	ActiveBefore time.Time // sessions whose last activity predates this
	Limit        int
	Offset       int
}

// DurableStore is the relational source of truth for sessions and
// their events.
type DurableStore interface {
	// UpsertSession writes a session. When the session already exists
	// the write is conditional on the stored version being exactly one
	// behind; ErrVersionConflict reports a lost update.
	UpsertSession(ctx context.Context, s *session.Session) error

	// GetSession reads one session by id. ErrNotFound when absent.
	GetSession(ctx context.Context, id string) (*session.Session, error)

	// QuerySessions returns sessions matching the filter, newest first.
	QuerySessions(ctx context.Context, f Filter) ([]*session.Session, error)

	// InsertEvent appends an immutable session event.
	InsertEvent(ctx context.Context, ev session.Event) error

	// EventsForSession returns a session's event history in insertion
	// order, capped at limit.
	EventsForSession(ctx context.Context, sessionID string, limit int) ([]session.Event, error)

	// Close releases the underlying connection.
	Close() error
}

// CacheStore is an ephemeral key-value replica. No transactional
// guarantees; entries expire on their TTL.
type CacheStore interface {
	// Get reads a cached session. ErrNotFound when absent or expired.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Set writes a cached session with a TTL.
	Set(ctx context.Context, s *session.Session, ttl time.Duration) error

	// Delete removes a cached session. Absent keys are not an error.
	Delete(ctx context.Context, id string) error

	// Keys lists the currently cached session ids.
	Keys(ctx context.Context) ([]string, error)
}
