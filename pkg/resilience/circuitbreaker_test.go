package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jelmore/jelmore/pkg/session"
)

func failingOp(ctx context.Context) error { return errors.New("boom") }
func okOp(ctx context.Context) error      { return nil }

func tripBreaker(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(context.Background(), failingOp))
	}
	require.Equal(t, BreakerOpen, cb.State())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("cache", 3, time.Minute)
	assert.Equal(t, BreakerClosed, cb.State())

	tripBreaker(t, cb)
}

func TestBreakerFailsFastWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker("cache", 3, time.Minute)
	tripBreaker(t, cb)

	calls := 0
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)

	var dep *session.DependencyUnavailable
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, "cache", dep.Dependency)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("cache", 3, time.Minute)

	assert.Error(t, cb.Execute(context.Background(), failingOp))
	assert.Error(t, cb.Execute(context.Background(), failingOp))
	assert.NoError(t, cb.Execute(context.Background(), okOp))
	assert.Error(t, cb.Execute(context.Background(), failingOp))
	assert.Error(t, cb.Execute(context.Background(), failingOp))

	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerProbeClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("cache", 3, time.Minute)
	now := time.Now()
	cb.now = func() time.Time { return now }

	tripBreaker(t, cb)

	// cooldown elapses
	now = now.Add(61 * time.Second)
	assert.Equal(t, BreakerHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), okOp))
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerProbeReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker("cache", 3, time.Minute)
	now := time.Now()
	cb.now = func() time.Time { return now }

	tripBreaker(t, cb)

	now = now.Add(61 * time.Second)
	assert.Error(t, cb.Execute(context.Background(), failingOp))
	assert.Equal(t, BreakerOpen, cb.State())

	// the fresh cooldown window applies
	calls := 0
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestBreakerSingleProbeInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("cache", 3, time.Minute)
	now := time.Now()
	cb.now = func() time.Time { return now }

	tripBreaker(t, cb)
	now = now.Add(61 * time.Second)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted

	// a second caller is rejected while the probe is in flight
	err := cb.Execute(context.Background(), okOp)
	var dep *session.DependencyUnavailable
	require.ErrorAs(t, err, &dep)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerStateHookSeesTransitions(t *testing.T) {
	cb := NewCircuitBreaker("durable_store", 3, time.Minute)
	now := time.Now()
	cb.now = func() time.Time { return now }

	var seen []BreakerState
	cb.OnStateChange(func(s BreakerState) { seen = append(seen, s) })

	tripBreaker(t, cb)
	now = now.Add(61 * time.Second)
	require.NoError(t, cb.Execute(context.Background(), okOp))

	assert.Equal(t, []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}, seen)
}
