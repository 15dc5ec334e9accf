package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jelmore/jelmore/internal/metrics"
	"github.com/jelmore/jelmore/pkg/registry"
	"github.com/jelmore/jelmore/pkg/session"
	"github.com/jelmore/jelmore/pkg/store"
)

// TimeoutConfig controls the inactivity thresholds.
type TimeoutConfig struct {
	// WarnAfter is the inactivity window before a soft warning event.
	WarnAfter time.Duration

	// FailAfter is the inactivity window before the session is failed.
	FailAfter time.Duration
}

// DefaultTimeoutConfig returns the timeout monitor defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		WarnAfter: 20 * time.Minute,
		FailAfter: 30 * time.Minute,
	}
}

// TimeoutMonitor fails sessions that have been inactive past the hard
// threshold, warning once per session first. All reads and writes go
// through the registry.
type TimeoutMonitor struct {
	cfg      TimeoutConfig
	registry *registry.Registry
	metrics  *metrics.Metrics

	mu     sync.Mutex
	warned map[string]struct{}
}

// NewTimeoutMonitor creates a timeout monitor.
func NewTimeoutMonitor(cfg TimeoutConfig, reg *registry.Registry, m *metrics.Metrics) (*TimeoutMonitor, error) {
	if cfg.WarnAfter <= 0 || cfg.FailAfter <= 0 {
		return nil, fmt.Errorf("timeout thresholds must be positive")
	}
	if cfg.WarnAfter >= cfg.FailAfter {
		return nil, fmt.Errorf("warn threshold %s must precede fail threshold %s", cfg.WarnAfter, cfg.FailAfter)
	}
	return &TimeoutMonitor{
		cfg:      cfg,
		registry: reg,
		metrics:  m,
		warned:   make(map[string]struct{}),
	}, nil
}

func (t *TimeoutMonitor) Name() string { return "timeout" }

// RunOnce sweeps all non-terminal sessions once.
func (t *TimeoutMonitor) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()
	sessions, err := t.registry.List(ctx, store.Filter{
		Statuses: []session.Status{
			session.StatusInitializing,
			session.StatusActive,
			session.StatusIdle,
			session.StatusWaitingInput,
		},
		ActiveBefore: now.Add(-t.cfg.WarnAfter),
		Limit:        500,
	})
	if err != nil {
		return fmt.Errorf("failed to list inactive sessions: %w", err)
	}

	for _, sum := range sessions {
		idle := now.Sub(sum.LastActivityAt)
		if idle >= t.cfg.FailAfter {
			t.fail(ctx, sum.ID, idle)
			continue
		}
		t.warn(ctx, sum.ID, idle)
	}

	t.forgetTerminal(sessions)
	return nil
}

func (t *TimeoutMonitor) warn(ctx context.Context, id string, idle time.Duration) {
	t.mu.Lock()
	_, already := t.warned[id]
	if !already {
		t.warned[id] = struct{}{}
	}
	t.mu.Unlock()
	if already {
		return
	}

	t.registry.RecordEvent(ctx, session.NewEvent(id, session.EventTimeoutWarning, map[string]string{
		"idle": idle.String(),
	}))
	if t.metrics != nil {
		t.metrics.TimeoutWarningsTotal.Inc()
	}
	log.Warn().
		Str("session_id", id).
		Dur("idle", idle).
		Msg("Session approaching inactivity timeout")
}

func (t *TimeoutMonitor) fail(ctx context.Context, id string, idle time.Duration) {
	if _, err := t.registry.UpdateStatus(ctx, id, session.StatusFailed, "timeout"); err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("Failed to time out session")
		return
	}
	if t.metrics != nil {
		t.metrics.TimeoutFailuresTotal.Inc()
	}
	t.mu.Lock()
	delete(t.warned, id)
	t.mu.Unlock()
	log.Warn().
		Str("session_id", id).
		Dur("idle", idle).
		Msg("Session failed by inactivity timeout")
}

// forgetTerminal prunes warning markers for sessions no longer in the
// sweep set, keeping the map bounded.
func (t *TimeoutMonitor) forgetTerminal(active []session.Summary) {
	live := make(map[string]struct{}, len(active))
	for _, s := range active {
		live[s.ID] = struct{}{}
	}
	t.mu.Lock()
	for id := range t.warned {
		if _, ok := live[id]; !ok {
			delete(t.warned, id)
		}
	}
	t.mu.Unlock()
}
