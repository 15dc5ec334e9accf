package session

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// EventType identifies a lifecycle, command, output, or system event
type EventType string

const (
	EventSessionCreated    EventType = "session_created"
	EventSessionStarted    EventType = "session_started"
	EventSessionIdle       EventType = "session_idle"
	EventSessionResumed    EventType = "session_resumed"
	EventSessionWaiting    EventType = "session_waiting_input"
	EventSessionTerminated EventType = "session_terminated"
	EventSessionFailed     EventType = "session_failed"

	EventCommandSent EventType = "command_sent"

	EventOutputReceived EventType = "output_received"
	EventErrorReceived  EventType = "error_received"

	EventTimeoutWarning EventType = "timeout_warning"
	EventKeepalive      EventType = "keepalive"
)

// eventTypeByStatus maps a newly-applied status to its lifecycle event
var eventTypeByStatus = map[Status]EventType{
	StatusActive:       EventSessionStarted,
	StatusIdle:         EventSessionIdle,
	StatusWaitingInput: EventSessionWaiting,
	StatusTerminated:   EventSessionTerminated,
	StatusFailed:       EventSessionFailed,
}

// EventForStatus returns the lifecycle event type for a status change
func EventForStatus(to Status) (EventType, bool) {
	t, ok := eventTypeByStatus[to]
	return t, ok
}

// Event records one session activity. Immutable once created; emitted
// exactly once per transition. The stable ID lets downstream consumers
// deduplicate at-least-once delivery.
type Event struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Type      EventType         `json:"type"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewEvent creates an event with a fresh stable id
func NewEvent(sessionID string, t EventType, payload map[string]string) Event {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when the OS entropy source does
		id = sessionID + "-" + string(t)
	}
	return Event{
		ID:        id,
		SessionID: sessionID,
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
