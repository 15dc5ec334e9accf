package claudecli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jelmore/jelmore/pkg/provider"
)

func TestParseLine(t *testing.T) {
	t.Run("assistant event", func(t *testing.T) {
		ev, ok := parseLine([]byte(`{"type":"assistant","content":"hello"}`))
		require.True(t, ok)
		assert.Equal(t, provider.StreamAssistant, ev.Type)
		assert.Equal(t, "hello", ev.Content)
	})

	t.Run("tool use carries tool name", func(t *testing.T) {
		ev, ok := parseLine([]byte(`{"type":"tool_use","name":"bash","input":{"command":"ls"}}`))
		require.True(t, ok)
		assert.Equal(t, provider.StreamToolUse, ev.Type)
		assert.Equal(t, "bash", ev.Metadata["tool"])
		assert.JSONEq(t, `{"command":"ls"}`, ev.Content)
	})

	t.Run("error event", func(t *testing.T) {
		ev, ok := parseLine([]byte(`{"type":"error","content":"boom"}`))
		require.True(t, ok)
		assert.Equal(t, provider.StreamError, ev.Type)
	})

	t.Run("unknown type falls back to system", func(t *testing.T) {
		ev, ok := parseLine([]byte(`{"type":"telemetry","content":"x"}`))
		require.True(t, ok)
		assert.Equal(t, provider.StreamSystem, ev.Type)
	})

	t.Run("non-json is rejected", func(t *testing.T) {
		_, ok := parseLine([]byte(`plain text output`))
		assert.False(t, ok)
	})
}

func TestCapabilities(t *testing.T) {
	p := New(Config{MaxSessions: 3})

	caps := p.Capabilities()
	assert.True(t, caps.Streaming)
	assert.True(t, caps.Suspend)
	assert.Equal(t, 3, caps.MaxConcurrentSessions)
	assert.True(t, caps.SupportsModel("claude-3-5-sonnet-20241022"))
	assert.False(t, caps.SupportsModel("gpt-5"))
}

func TestCreateSessionRejectsUnknownModel(t *testing.T) {
	p := New(Config{})

	_, err := p.CreateSession(t.Context(), "q", provider.SessionConfig{Model: "not-a-model"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrModelNotSupported)
}

func TestDefaults(t *testing.T) {
	p := New(Config{})
	assert.Equal(t, defaultBinary, p.cfg.Binary)
	assert.Equal(t, 10, p.cfg.MaxSessions)
}

func TestBuildEnvKeepsParentEnvironment(t *testing.T) {
	assert.Nil(t, buildEnv(nil))
	assert.Nil(t, buildEnv(map[string]string{}))

	t.Setenv("CLAUDECLI_TEST_PARENT", "present")
	env := buildEnv(map[string]string{"SESSION_VAR": "value"})

	assert.Contains(t, env, "CLAUDECLI_TEST_PARENT=present")
	assert.Contains(t, env, "SESSION_VAR=value")
}
