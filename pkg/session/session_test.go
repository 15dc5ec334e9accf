package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	s := New("list files", "echo")

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusInitializing, s.Status)
	assert.Equal(t, "list files", s.Query)
	assert.Equal(t, "echo", s.ProviderName)
	assert.Equal(t, int64(1), s.Version)
	assert.False(t, s.CreatedAt.IsZero())
	assert.Nil(t, s.TerminatedAt)
}

func TestCloneIsIndependent(t *testing.T) {
	s := New("q", "echo")
	s.Metadata["owner"] = "a"

	c := s.Clone()
	c.Metadata["owner"] = "b"
	c.Status = StatusActive

	assert.Equal(t, "a", s.Metadata["owner"])
	assert.Equal(t, StatusInitializing, s.Status)
}

func TestAppendOutputBounded(t *testing.T) {
	s := New("q", "echo")

	s.AppendOutput("hello ")
	s.AppendOutput("world")
	assert.Equal(t, "hello world", s.OutputBuffer)

	s.AppendOutput(strings.Repeat("x", MaxOutputBuffer+100))
	require.Equal(t, MaxOutputBuffer, len(s.OutputBuffer))
	assert.True(t, strings.HasSuffix(s.OutputBuffer, "x"))
}

func TestSummarizeOmitsHandle(t *testing.T) {
	s := New("q", "echo")
	s.ProcessHandle = "proc-42"
	s.AppendOutput("abc")

	sum := s.Summarize()
	assert.Equal(t, s.ID, sum.ID)
	assert.Equal(t, 3, sum.OutputSize)
}

func TestNewEventHasStableID(t *testing.T) {
	e1 := NewEvent("s1", EventSessionStarted, nil)
	e2 := NewEvent("s1", EventSessionStarted, nil)

	assert.NotEmpty(t, e1.ID)
	assert.NotEqual(t, e1.ID, e2.ID)
	assert.Equal(t, "s1", e1.SessionID)
}

func TestEventForStatus(t *testing.T) {
	for status, want := range map[Status]EventType{
		StatusActive:       EventSessionStarted,
		StatusIdle:         EventSessionIdle,
		StatusWaitingInput: EventSessionWaiting,
		StatusTerminated:   EventSessionTerminated,
		StatusFailed:       EventSessionFailed,
	} {
		got, ok := EventForStatus(status)
		require.True(t, ok, "status %s", status)
		assert.Equal(t, want, got)
	}

	_, ok := EventForStatus(StatusInitializing)
	assert.False(t, ok)
}
