package monitor

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jelmore/jelmore/internal/metrics"
	"github.com/jelmore/jelmore/pkg/bus"
	"github.com/jelmore/jelmore/pkg/provider"
	"github.com/jelmore/jelmore/pkg/provider/echo"
	"github.com/jelmore/jelmore/pkg/registry"
	"github.com/jelmore/jelmore/pkg/session"
	"github.com/jelmore/jelmore/pkg/store"
)

type fixture struct {
	registry *registry.Registry
	durable  *store.SQLiteStore
	cache    *store.MemoryCache
	eventBus *bus.InProcessBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	durable, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { durable.Close() })

	preg := provider.NewRegistry()
	require.NoError(t, preg.Register(echo.New(echo.WithOpenStream())))

	eventBus := bus.NewInProcessBus()
	t.Cleanup(func() { eventBus.Close() })

	cache := store.NewMemoryCache(0)

	reg, err := registry.New(registry.Config{CacheTTL: time.Minute}, preg, durable, cache, eventBus, nil)
	require.NoError(t, err)

	return &fixture{registry: reg, durable: durable, cache: cache, eventBus: eventBus}
}

// backdate pushes a session's activity into the past, bypassing the
// registry's activity tracking. It first waits for the echoed query to
// land so no in-flight output append races the rewrite.
func backdate(t *testing.T, f *fixture, id string, by time.Duration) {
	t.Helper()
	ctx := context.Background()
	require.Eventually(t, func() bool {
		s, err := f.durable.GetSession(ctx, id)
		return err == nil && s.OutputBuffer != ""
	}, 2*time.Second, 10*time.Millisecond)

	sess, err := f.durable.GetSession(ctx, id)
	require.NoError(t, err)
	sess.LastActivityAt = sess.LastActivityAt.Add(-by)
	sess.Version++
	require.NoError(t, f.durable.UpsertSession(ctx, sess))
	require.NoError(t, f.cache.Delete(ctx, id))
}

func newTimeout(t *testing.T, f *fixture) *TimeoutMonitor {
	t.Helper()
	m, err := NewTimeoutMonitor(TimeoutConfig{
		WarnAfter: 10 * time.Minute,
		FailAfter: 30 * time.Minute,
	}, f.registry, metrics.NewMetrics())
	require.NoError(t, err)
	return m
}

func TestTimeoutMonitorWarnsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.registry.Create(ctx, registry.CreateRequest{Query: "q", Provider: "echo"})
	require.NoError(t, err)
	backdate(t, f, sess.ID, 15*time.Minute)

	ch, cancel := f.eventBus.Subscribe(bus.TopicSessionEvents)
	defer cancel()

	m := newTimeout(t, f)
	require.NoError(t, m.RunOnce(ctx))
	require.NoError(t, m.RunOnce(ctx))

	warnings := 0
	deadline := time.After(200 * time.Millisecond)
	for done := false; !done; {
		select {
		case ev := <-ch:
			if ev.Type == session.EventTimeoutWarning {
				warnings++
			}
		case <-deadline:
			done = true
		}
	}
	assert.Equal(t, 1, warnings)

	// warned but not failed
	got, err := f.registry.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status)
}

func TestTimeoutMonitorFailsPastHardThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.registry.Create(ctx, registry.CreateRequest{Query: "q", Provider: "echo"})
	require.NoError(t, err)
	backdate(t, f, sess.ID, time.Hour)

	m := newTimeout(t, f)
	require.NoError(t, m.RunOnce(ctx))

	got, err := f.registry.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, got.Status)
	assert.Equal(t, "timeout", got.ErrorDetail)
}

func TestTimeoutMonitorSkipsRecentSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.registry.Create(ctx, registry.CreateRequest{Query: "q", Provider: "echo"})
	require.NoError(t, err)

	m := newTimeout(t, f)
	require.NoError(t, m.RunOnce(ctx))

	got, err := f.registry.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status)
}

func TestTimeoutMonitorRejectsInvertedThresholds(t *testing.T) {
	f := newFixture(t)
	_, err := NewTimeoutMonitor(TimeoutConfig{
		WarnAfter: time.Hour,
		FailAfter: time.Minute,
	}, f.registry, nil)
	assert.Error(t, err)
}

// ageTermination rewrites a terminal session's termination time in the
// durable store, leaving the cache entry in place.
func ageTermination(t *testing.T, f *fixture, id string, by time.Duration) {
	t.Helper()
	ctx := context.Background()

	sess, err := f.durable.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sess.TerminatedAt)
	aged := sess.TerminatedAt.Add(-by)
	sess.TerminatedAt = &aged
	sess.Version++
	require.NoError(t, f.durable.UpsertSession(ctx, sess))
}

func TestStaleCleanupEvictsTerminalPastRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.registry.Create(ctx, registry.CreateRequest{Query: "q", Provider: "echo"})
	require.NoError(t, err)
	_, err = f.registry.Terminate(ctx, sess.ID, "user_request")
	require.NoError(t, err)
	ageTermination(t, f, sess.ID, 2*time.Hour)

	// terminal session still cached until the sweep
	_, err = f.cache.Get(ctx, sess.ID)
	require.NoError(t, err)

	c := NewStaleCleanup(f.registry, time.Hour, metrics.NewMetrics())
	require.NoError(t, c.RunOnce(ctx))

	_, err = f.cache.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStaleCleanupKeepsRecentTerminalSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.registry.Create(ctx, registry.CreateRequest{Query: "q", Provider: "echo"})
	require.NoError(t, err)
	_, err = f.registry.Terminate(ctx, sess.ID, "user_request")
	require.NoError(t, err)

	// terminated inside the retention window, stays readable
	c := NewStaleCleanup(f.registry, time.Hour, nil)
	require.NoError(t, c.RunOnce(ctx))

	_, err = f.cache.Get(ctx, sess.ID)
	assert.NoError(t, err)
}

func TestStaleCleanupReconcilesOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orphan := session.New("q", "echo")
	require.NoError(t, f.cache.Set(ctx, orphan, time.Minute))

	c := NewStaleCleanup(f.registry, time.Minute, nil)
	require.NoError(t, c.RunOnce(ctx))

	_, err := f.cache.Get(ctx, orphan.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStaleCleanupKeepsLiveSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.registry.Create(ctx, registry.CreateRequest{Query: "q", Provider: "echo"})
	require.NoError(t, err)

	c := NewStaleCleanup(f.registry, time.Minute, nil)
	require.NoError(t, c.RunOnce(ctx))

	_, err = f.cache.Get(ctx, sess.ID)
	assert.NoError(t, err)
}

type countingJob struct {
	runs atomic.Int64
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) RunOnce(ctx context.Context) error {
	j.runs.Add(1)
	return nil
}

func TestRunnerSchedulesJob(t *testing.T) {
	r := NewRunner()
	job := &countingJob{}
	require.NoError(t, r.Add(job, time.Second))

	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool {
		return job.runs.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRunnerRejectsNonPositiveInterval(t *testing.T) {
	r := NewRunner()
	assert.Error(t, r.Add(&countingJob{}, 0))
}
