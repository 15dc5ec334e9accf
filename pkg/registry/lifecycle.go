package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jelmore/jelmore/internal/tracing"
	"github.com/jelmore/jelmore/pkg/provider"
	"github.com/jelmore/jelmore/pkg/session"
	"github.com/jelmore/jelmore/pkg/store"
	"github.com/jelmore/jelmore/pkg/stream"
)

// CreateRequest describes one new session.
type CreateRequest struct {
	Query    string
	Provider string
	Config   provider.SessionConfig
}

// Create starts a new session. The session is persisted in the
// INITIALIZING state before the provider is invoked, so a crashed or
// failed start still leaves an inspectable record. On provider failure
// the session transitions to FAILED and is returned along with the
// error.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*session.Session, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "registry.create",
		attribute.String("session.provider", req.Provider))
	defer span.End()

	if req.Query == "" {
		return nil, &session.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	p, err := r.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	caps := p.Capabilities()
	if !caps.SupportsModel(req.Config.Model) {
		return nil, fmt.Errorf("provider %s model %q: %w", req.Provider, req.Config.Model, provider.ErrModelNotSupported)
	}

	sess := session.New(req.Query, req.Provider)
	sess.WorkingDirectory = req.Config.WorkingDirectory
	logger := r.logger(sess.ID)

	// the slot is claimed before any slow work so concurrent creates
	// cannot overshoot the ceilings
	if err := r.reserveLive(sess.ID, req.Provider, caps.MaxConcurrentSessions); err != nil {
		return nil, err
	}

	l := r.sessionLock(sess.ID)
	l.Lock()
	defer l.Unlock()

	if err := r.persist(ctx, sess); err != nil {
		r.releaseLive(sess.ID)
		return nil, err
	}
	r.publish(ctx, session.NewEvent(sess.ID, session.EventSessionCreated, map[string]string{
		"provider": req.Provider,
	}))
	if r.metrics != nil {
		// balanced by the terminal transition's decrement
		r.metrics.SessionsActive.Inc()
	}

	start := time.Now()
	handle, err := p.CreateSession(ctx, req.Query, req.Config)
	if r.metrics != nil {
		r.metrics.ProviderCallDuration.WithLabelValues(req.Provider, "create_session").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.ProviderCallsTotal.WithLabelValues(req.Provider, "create_session", "error").Inc()
			r.metrics.ProviderErrorsTotal.WithLabelValues(req.Provider, "create_session").Inc()
			r.metrics.SessionsCreatedTotal.WithLabelValues(req.Provider, "failed").Inc()
		}
		logger.Error().Err(err).Msg("Provider failed to start session")

		failed, uerr := r.updateStatusLocked(ctx, sess.ID, session.StatusFailed, "provider_start_failed")
		if uerr != nil {
			logger.Error().Err(uerr).Msg("Failed to record session failure")
			r.releaseLive(sess.ID)
			return sess, &session.ProviderError{Provider: req.Provider, SessionID: sess.ID, Err: err}
		}
		return failed, &session.ProviderError{Provider: req.Provider, SessionID: sess.ID, Err: err}
	}
	if r.metrics != nil {
		r.metrics.ProviderCallsTotal.WithLabelValues(req.Provider, "create_session", "ok").Inc()
		r.metrics.SessionsCreatedTotal.WithLabelValues(req.Provider, "active").Inc()
	}

	sess.ProcessHandle = handle.ID()
	if req.Config.Model != "" {
		sess.Metadata["model"] = req.Config.Model
	}

	mux := stream.New(sess.ID, handle.Events(),
		stream.WithObserver(r.observerFor(sess.ID)),
		stream.WithOnClose(func() { r.onStreamClosed(sess.ID) }),
	)

	// the reserved slot gains its provider resources so Terminate can
	// reach the handle even if the write below fails
	r.mu.Lock()
	if ls := r.live[sess.ID]; ls != nil {
		ls.handle = handle
		ls.mux = mux
	}
	r.mu.Unlock()

	sess.Version++
	if err := r.persist(ctx, sess); err != nil {
		return sess, err
	}

	active, err := r.updateStatusLocked(ctx, sess.ID, session.StatusActive, "")
	if err != nil {
		return sess, err
	}

	logger.Info().Str("provider", req.Provider).Str("handle", handle.ID()).Msg("Session started")
	return active, nil
}

// SendInput forwards text to a session waiting for it. Sessions in the
// ACTIVE or IDLE state accept input too; IDLE sessions resume.
func (r *Registry) SendInput(ctx context.Context, id, text string) (*session.Session, error) {
	if text == "" {
		return nil, &session.ValidationError{Field: "input", Reason: "must not be empty"}
	}

	l := r.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	sess, err := r.durableGet(ctx, id)
	if err != nil {
		return nil, r.notFound(id, err)
	}
	if sess.Status.IsTerminal() || sess.Status == session.StatusInitializing {
		return nil, &session.InvalidStateError{SessionID: id, From: sess.Status, To: session.StatusActive, Op: "send_input"}
	}

	ls := r.liveFor(id)
	if ls == nil {
		return nil, &session.ProviderError{Provider: sess.ProviderName, SessionID: id, Err: provider.ErrInvalidHandleState}
	}

	p, err := r.providers.Get(sess.ProviderName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = p.SendInput(ctx, ls.handle, text)
	if r.metrics != nil {
		r.metrics.ProviderCallDuration.WithLabelValues(sess.ProviderName, "send_input").Observe(time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.ProviderCallsTotal.WithLabelValues(sess.ProviderName, "send_input", status).Inc()
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.ProviderErrorsTotal.WithLabelValues(sess.ProviderName, "send_input").Inc()
		}
		return nil, &session.ProviderError{Provider: sess.ProviderName, SessionID: id, Err: err}
	}

	r.publish(ctx, session.NewEvent(id, session.EventCommandSent, map[string]string{
		"bytes": fmt.Sprintf("%d", len(text)),
	}))

	if sess.Status == session.StatusActive {
		// already running, just record activity
		sess.Touch()
		sess.Version++
		if err := r.persist(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}
	return r.updateStatusLocked(ctx, id, session.StatusActive, "")
}

// Terminate ends a session. The reason is recorded on the session and
// carried in the terminal event payload. Terminating an
// already-terminal session is a no-op returning the stored state; the
// terminal event is emitted at most once.
func (r *Registry) Terminate(ctx context.Context, id, reason string) (*session.Session, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "registry.terminate",
		attribute.String("session.id", id))
	defer span.End()

	l := r.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	sess, err := r.durableGet(ctx, id)
	if err != nil {
		return nil, r.notFound(id, err)
	}
	if sess.Status.IsTerminal() {
		return sess, nil
	}

	if ls := r.liveFor(id); ls != nil {
		p, perr := r.providers.Get(sess.ProviderName)
		if perr == nil {
			if terr := p.Terminate(ctx, ls.handle); terr != nil {
				// the lifecycle record still moves to terminated
				r.logger(id).Warn().Err(terr).Msg("Provider terminate failed")
				if r.metrics != nil {
					r.metrics.ProviderErrorsTotal.WithLabelValues(sess.ProviderName, "terminate").Inc()
				}
			}
		}
	}

	return r.updateStatusLocked(ctx, id, session.StatusTerminated, reason)
}

// AppendOutput records provider output against the session, resuming
// IDLE sessions.
func (r *Registry) AppendOutput(ctx context.Context, id, chunk string) error {
	if chunk == "" {
		return nil
	}

	l := r.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	sess, err := r.durableGet(ctx, id)
	if err != nil {
		return r.notFound(id, err)
	}
	if sess.Status.IsTerminal() {
		// late output after termination is dropped
		return nil
	}

	sess.AppendOutput(chunk)
	sess.Touch()
	sess.Version++
	if err := r.persist(ctx, sess); err != nil {
		return err
	}

	r.publish(ctx, session.NewEvent(id, session.EventOutputReceived, map[string]string{
		"bytes": fmt.Sprintf("%d", len(chunk)),
	}))

	if sess.Status == session.StatusIdle {
		if _, err := r.updateStatusLocked(ctx, id, session.StatusActive, ""); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe attaches a consumer to a session's live output stream.
func (r *Registry) Subscribe(id string, replay bool) (<-chan provider.StreamEvent, func(), error) {
	r.mu.Lock()
	var mux *stream.Multiplexer
	if ls := r.live[id]; ls != nil {
		mux = ls.mux
	}
	r.mu.Unlock()
	if mux == nil {
		return nil, nil, fmt.Errorf("session %s has no live stream: %w", id, session.ErrNotFound)
	}
	ch, cancel := mux.Subscribe(replay)
	return ch, cancel, nil
}

func (r *Registry) liveFor(id string) *liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[id]
}

func (r *Registry) notFound(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("session %s: %w", id, session.ErrNotFound)
	}
	return err
}

// observerFor builds the per-event callback that drives state from the
// provider stream.
func (r *Registry) observerFor(id string) stream.Observer {
	return func(ev provider.StreamEvent) {
		ctx := context.Background()
		switch ev.Type {
		case provider.StreamError:
			r.publish(ctx, session.NewEvent(id, session.EventErrorReceived, map[string]string{
				"error": ev.Content,
			}))
			if _, err := r.UpdateStatus(ctx, id, session.StatusFailed, "provider_error"); err != nil {
				r.logger(id).Warn().Err(err).Msg("Failed to fail session on stream error")
			}
		case provider.StreamSystem:
			if ev.Metadata["state"] == provider.StateWaitingInput {
				if _, err := r.UpdateStatus(ctx, id, session.StatusWaitingInput, ""); err != nil {
					r.logger(id).Warn().Err(err).Msg("Failed to mark session waiting for input")
				}
			}
		default:
			if ev.Content != "" {
				if err := r.AppendOutput(ctx, id, ev.Content); err != nil {
					r.logger(id).Warn().Err(err).Msg("Failed to append output")
				}
			}
		}
	}
}

// onStreamClosed runs after a provider stream ends. A session that is
// still running settles to IDLE; WAITING_INPUT is preserved so the
// caller can still respond.
func (r *Registry) onStreamClosed(id string) {
	ctx := context.Background()

	l := r.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	sess, err := r.durableGet(ctx, id)
	if err != nil {
		return
	}
	if sess.Status != session.StatusActive {
		return
	}
	if _, err := r.updateStatusLocked(ctx, id, session.StatusIdle, ""); err != nil {
		r.logger(id).Warn().Err(err).Msg("Failed to idle session after stream close")
	}
}
