// Package registry implements the session registry, the single writer
// for session state.
//
// Every mutation follows the same discipline: validate the transition,
// write the durable store (source of truth, version-checked), refresh
// the cache replica, then publish the lifecycle event. Readers go
// cache-first with durable read-through.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jelmore/jelmore/internal/metrics"
	"github.com/jelmore/jelmore/internal/tracing"
	"github.com/jelmore/jelmore/pkg/bus"
	"github.com/jelmore/jelmore/pkg/provider"
	"github.com/jelmore/jelmore/pkg/resilience"
	"github.com/jelmore/jelmore/pkg/session"
	"github.com/jelmore/jelmore/pkg/store"
	"github.com/jelmore/jelmore/pkg/stream"
)

const tracerName = "jelmore/registry"

// Config controls registry behavior.
type Config struct {
	// CacheTTL bounds how long a session lives in the cache replica.
	CacheTTL time.Duration

	// MaxSessions caps concurrently live (non-terminal) sessions
	// across all providers. Zero means unlimited.
	MaxSessions int
}

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:    30 * time.Minute,
		MaxSessions: 100,
	}
}

// liveSession tracks the in-process resources of a non-terminal
// session.
type liveSession struct {
	providerName string
	handle       provider.Handle
	mux          *stream.Multiplexer
}

// Registry owns session lifecycle state.
type Registry struct {
	cfg       Config
	providers *provider.Registry
	durable   store.DurableStore
	cache     store.CacheStore
	events    bus.EventBus
	metrics   *metrics.Metrics

	durableBreaker *resilience.CircuitBreaker
	cacheBreaker   *resilience.CircuitBreaker

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	live  map[string]*liveSession
}

// New creates a registry.
func New(cfg Config, providers *provider.Registry, durable store.DurableStore, cache store.CacheStore, events bus.EventBus, m *metrics.Metrics) (*Registry, error) {
	if providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if durable == nil {
		return nil, fmt.Errorf("durable store is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}

	r := &Registry{
		cfg:            cfg,
		providers:      providers,
		durable:        durable,
		cache:          cache,
		events:         events,
		metrics:        m,
		durableBreaker: resilience.NewCircuitBreaker("durable_store", 3, 60*time.Second),
		cacheBreaker:   resilience.NewCircuitBreaker("cache", 3, 60*time.Second),
		locks:          make(map[string]*sync.Mutex),
		live:           make(map[string]*liveSession),
	}
	if m != nil {
		r.durableBreaker.OnStateChange(breakerGauge(m, "durable_store"))
		r.cacheBreaker.OnStateChange(breakerGauge(m, "cache"))
	}
	return r, nil
}

func breakerGauge(m *metrics.Metrics, dependency string) func(resilience.BreakerState) {
	return func(s resilience.BreakerState) {
		var v float64
		switch s {
		case resilience.BreakerOpen:
			v = 1
		case resilience.BreakerHalfOpen:
			v = 2
		}
		m.BreakerState.WithLabelValues(dependency).Set(v)
	}
}

// sessionLock returns the per-session write lock, creating it on first
// use.
func (r *Registry) sessionLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *Registry) logger(id string) *zerolog.Logger {
	l := log.With().Str("session_id", id).Logger()
	return &l
}

// LiveCount reports the number of sessions with in-process provider
// resources.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// reserveLive claims a live slot for a new session, enforcing the
// global and per-provider ceilings in one critical section. The entry
// starts without provider resources; Create fills them in.
func (r *Registry) reserveLive(id, providerName string, providerMax int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxSessions > 0 && len(r.live) >= r.cfg.MaxSessions {
		return &session.ValidationError{Field: "sessions", Reason: fmt.Sprintf("limit of %d concurrent sessions reached", r.cfg.MaxSessions)}
	}
	if providerMax > 0 {
		n := 0
		for _, ls := range r.live {
			if ls.providerName == providerName {
				n++
			}
		}
		if n >= providerMax {
			return &session.ValidationError{Field: "sessions", Reason: fmt.Sprintf("provider %s limit of %d concurrent sessions reached", providerName, providerMax)}
		}
	}

	r.live[id] = &liveSession{providerName: providerName}
	return nil
}

// persist writes the session durable-first, then refreshes the cache.
// A cache failure never fails the write.
func (r *Registry) persist(ctx context.Context, sess *session.Session) error {
	start := time.Now()
	var werr error
	err := r.durableBreaker.Execute(ctx, func(ctx context.Context) error {
		werr = r.durable.UpsertSession(ctx, sess)
		if errors.Is(werr, store.ErrVersionConflict) {
			// a lost update is the caller's problem, not an outage
			return nil
		}
		return werr
	})
	if err == nil {
		err = werr
	}
	if r.metrics != nil {
		r.metrics.StoreWriteDuration.WithLabelValues("upsert_session").Observe(time.Since(start).Seconds())
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				r.metrics.VersionConflictTotal.Inc()
			}
			r.metrics.StoreWritesTotal.WithLabelValues("error").Inc()
		} else {
			r.metrics.StoreWritesTotal.WithLabelValues("ok").Inc()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	r.cacheSet(ctx, sess)
	return nil
}

func (r *Registry) cacheSet(ctx context.Context, sess *session.Session) {
	if r.cache == nil {
		return
	}
	err := r.cacheBreaker.Execute(ctx, func(ctx context.Context) error {
		return r.cache.Set(ctx, sess, r.cfg.CacheTTL)
	})
	if err != nil {
		r.logger(sess.ID).Warn().Err(err).Msg("Cache write failed, durable store remains authoritative")
	}
}

func (r *Registry) cacheGet(ctx context.Context, id string) (*session.Session, error) {
	if r.cache == nil {
		return nil, store.ErrNotFound
	}
	var sess *session.Session
	err := r.cacheBreaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		sess, err = r.cache.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// a miss is not a dependency failure
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

// durableGet reads from the durable store behind its breaker. A miss
// is distinguished from an outage and never trips the breaker.
func (r *Registry) durableGet(ctx context.Context, id string) (*session.Session, error) {
	var (
		sess *session.Session
		gerr error
	)
	err := r.durableBreaker.Execute(ctx, func(ctx context.Context) error {
		sess, gerr = r.durable.GetSession(ctx, id)
		if errors.Is(gerr, store.ErrNotFound) {
			return nil
		}
		return gerr
	})
	if err == nil {
		err = gerr
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// publish emits one event to the bus and records it durably.
func (r *Registry) publish(ctx context.Context, ev session.Event) {
	if err := r.durable.InsertEvent(ctx, ev); err != nil {
		r.logger(ev.SessionID).Error().Err(err).Str("event_type", string(ev.Type)).Msg("Failed to record event")
	}
	if r.events != nil {
		if err := r.events.Publish(ctx, bus.TopicSessionEvents, ev); err != nil {
			r.logger(ev.SessionID).Warn().Err(err).Msg("Failed to publish event")
		}
	}
	if r.metrics != nil {
		r.metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type)).Inc()
	}
}

// RecordEvent durably records and publishes an event produced outside
// a lifecycle transition, e.g. by the monitors.
func (r *Registry) RecordEvent(ctx context.Context, ev session.Event) {
	r.publish(ctx, ev)
}

// Get returns one session, cache-first with durable read-through.
func (r *Registry) Get(ctx context.Context, id string) (*session.Session, error) {
	if sess, err := r.cacheGet(ctx, id); err == nil {
		if r.metrics != nil {
			r.metrics.CacheHitsTotal.Inc()
		}
		return sess, nil
	}
	if r.metrics != nil {
		r.metrics.CacheMissesTotal.Inc()
	}

	sess, err := r.durableGet(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, session.ErrNotFound)
		}
		return nil, err
	}

	r.cacheSet(ctx, sess)
	return sess, nil
}

// List returns sessions matching the filter from the durable store.
func (r *Registry) List(ctx context.Context, f store.Filter) ([]session.Summary, error) {
	sessions, err := r.durable.QuerySessions(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]session.Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summarize())
	}
	return out, nil
}

// SessionEvents returns the recorded event history of one session in
// insertion order.
func (r *Registry) SessionEvents(ctx context.Context, id string, limit int) ([]session.Event, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return r.durable.EventsForSession(ctx, id, limit)
}

// UpdateStatus applies one lifecycle transition. Illegal transitions
// are rejected with InvalidStateError; the matching lifecycle event is
// emitted exactly once per applied transition.
func (r *Registry) UpdateStatus(ctx context.Context, id string, to session.Status, detail string) (*session.Session, error) {
	l := r.sessionLock(id)
	l.Lock()
	defer l.Unlock()
	return r.updateStatusLocked(ctx, id, to, detail)
}

func (r *Registry) updateStatusLocked(ctx context.Context, id string, to session.Status, detail string) (*session.Session, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "registry.update_status",
		attribute.String("session.id", id),
		attribute.String("session.to", string(to)))
	defer span.End()

	sess, err := r.durableGet(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, session.ErrNotFound)
		}
		return nil, err
	}

	if err := session.ValidateTransition(id, sess.Status, to); err != nil {
		return nil, err
	}

	from := sess.Status
	sess.Status = to
	sess.Version++
	sess.Touch()
	if detail != "" && to == session.StatusFailed {
		sess.ErrorDetail = detail
	}
	if detail != "" && to == session.StatusTerminated {
		sess.TerminateReason = detail
	}
	if to.IsTerminal() {
		now := time.Now().UTC()
		sess.TerminatedAt = &now
	}

	if err := r.persist(ctx, sess); err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.SessionTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
		if to == session.StatusFailed {
			reason := detail
			if reason == "" {
				reason = "unknown"
			}
			r.metrics.SessionFailuresTotal.WithLabelValues(reason).Inc()
		}
		if to.IsTerminal() {
			r.metrics.SessionsActive.Dec()
			r.metrics.SessionDuration.WithLabelValues(sess.ProviderName).Observe(sess.TerminatedAt.Sub(sess.CreatedAt).Seconds())
		}
	}

	if evType, ok := session.EventForStatus(to); ok {
		if to == session.StatusActive && from != session.StatusInitializing {
			evType = session.EventSessionResumed
		}
		payload := map[string]string{"from": string(from)}
		if detail != "" {
			if to == session.StatusTerminated {
				payload["reason"] = detail
			} else {
				payload["detail"] = detail
			}
		}
		r.publish(ctx, session.NewEvent(id, evType, payload))
	}

	r.logger(id).Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Session transitioned")

	if to.IsTerminal() {
		r.releaseLive(id)
	}
	return sess, nil
}

// EvictStale reconciles the cache replica against the durable store.
// Terminal sessions whose termination is older than the retention
// window are evicted; cache entries with no durable record are dropped
// as orphans. Durable history is never touched.
func (r *Registry) EvictStale(ctx context.Context, retention time.Duration) (evicted, orphans int, err error) {
	if r.cache == nil {
		return 0, 0, nil
	}
	keys, err := r.cache.Keys(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list cache keys: %w", err)
	}

	now := time.Now().UTC()
	for _, id := range keys {
		sess, gerr := r.durableGet(ctx, id)
		if errors.Is(gerr, store.ErrNotFound) {
			if derr := r.cache.Delete(ctx, id); derr == nil {
				orphans++
			}
			continue
		}
		if gerr != nil {
			return evicted, orphans, fmt.Errorf("failed to reconcile session %s: %w", id, gerr)
		}
		if !sess.Status.IsTerminal() {
			continue
		}
		if sess.TerminatedAt != nil && now.Sub(*sess.TerminatedAt) < retention {
			// recently terminated sessions stay readable from cache
			continue
		}
		if derr := r.cache.Delete(ctx, id); derr == nil {
			evicted++
		}
	}
	return evicted, orphans, nil
}

// releaseLive drops the in-process provider resources of a session.
// The per-session lock stays registered so late writers still
// serialize.
func (r *Registry) releaseLive(id string) {
	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()
}
