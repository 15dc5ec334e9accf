package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	legal := []struct {
		from, to Status
	}{
		{StatusInitializing, StatusActive},
		{StatusInitializing, StatusFailed},
		{StatusActive, StatusIdle},
		{StatusIdle, StatusActive},
		{StatusActive, StatusWaitingInput},
		{StatusIdle, StatusWaitingInput},
		{StatusWaitingInput, StatusActive},
		{StatusActive, StatusTerminated},
		{StatusIdle, StatusTerminated},
		{StatusWaitingInput, StatusTerminated},
		{StatusActive, StatusFailed},
		{StatusIdle, StatusFailed},
		{StatusWaitingInput, StatusFailed},
	}

	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct {
		from, to Status
	}{
		{StatusInitializing, StatusIdle},
		{StatusInitializing, StatusWaitingInput},
		{StatusInitializing, StatusTerminated},
		{StatusTerminated, StatusActive},
		{StatusTerminated, StatusFailed},
		{StatusFailed, StatusActive},
		{StatusFailed, StatusTerminated},
		{StatusWaitingInput, StatusIdle},
	}

	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestTerminalStatusesAreAbsorbing(t *testing.T) {
	all := []Status{
		StatusInitializing, StatusActive, StatusIdle,
		StatusWaitingInput, StatusTerminated, StatusFailed,
	}

	for _, terminal := range []Status{StatusTerminated, StatusFailed} {
		require.True(t, terminal.IsTerminal())
		for _, to := range all {
			assert.False(t, CanTransition(terminal, to), "%s -> %s must be rejected", terminal, to)
		}
	}
}

func TestValidateTransition(t *testing.T) {
	t.Run("legal transition passes", func(t *testing.T) {
		assert.NoError(t, ValidateTransition("s1", StatusActive, StatusIdle))
	})

	t.Run("illegal transition returns InvalidStateError", func(t *testing.T) {
		err := ValidateTransition("s1", StatusTerminated, StatusActive)
		require.Error(t, err)

		var ise *InvalidStateError
		require.True(t, errors.As(err, &ise))
		assert.Equal(t, "s1", ise.SessionID)
		assert.Equal(t, StatusTerminated, ise.From)
		assert.Equal(t, StatusActive, ise.To)
	})

	t.Run("unknown status returns ValidationError", func(t *testing.T) {
		err := ValidateTransition("s1", StatusActive, Status("paused"))

		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
	})
}
