// Package service assembles the application: stores, event bus,
// provider adapters, session registry, and monitors, with a small
// outward-facing API over session summaries.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jelmore/jelmore/internal/config"
	"github.com/jelmore/jelmore/internal/metrics"
	"github.com/jelmore/jelmore/pkg/bus"
	"github.com/jelmore/jelmore/pkg/monitor"
	"github.com/jelmore/jelmore/pkg/provider"
	"github.com/jelmore/jelmore/pkg/provider/anthropic"
	"github.com/jelmore/jelmore/pkg/provider/claudecli"
	"github.com/jelmore/jelmore/pkg/provider/echo"
	"github.com/jelmore/jelmore/pkg/provider/openai"
	"github.com/jelmore/jelmore/pkg/registry"
	"github.com/jelmore/jelmore/pkg/resilience"
	"github.com/jelmore/jelmore/pkg/session"
	"github.com/jelmore/jelmore/pkg/store"
)

// Service owns the full application wiring.
type Service struct {
	cfg     *config.Config
	metrics *metrics.Metrics

	durable   *store.SQLiteStore
	cache     *store.MemoryCache
	events    *bus.InProcessBus
	providers *provider.Registry
	registry  *registry.Registry
	monitors  *monitor.Runner

	metricsSrv *http.Server
}

// New builds the service from configuration. Dependencies are wired
// but not started; call Start.
func New(cfg *config.Config) (*Service, error) {
	m := metrics.NewMetrics()

	durable, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open durable store: %w", err)
	}

	cache := store.NewMemoryCache(time.Duration(cfg.Storage.CacheSweepSeconds) * time.Second)
	events := bus.NewInProcessBus(bus.WithDropHook(m.EventsDroppedTotal.Inc))

	providers, err := buildProviders(cfg)
	if err != nil {
		durable.Close()
		return nil, err
	}

	reg, err := registry.New(registry.Config{
		CacheTTL:    time.Duration(cfg.Storage.CacheTTLMinutes) * time.Minute,
		MaxSessions: cfg.Sessions.MaxConcurrent,
	}, providers, durable, cache, events, m)
	if err != nil {
		durable.Close()
		return nil, err
	}

	timeout, err := monitor.NewTimeoutMonitor(monitor.TimeoutConfig{
		WarnAfter: time.Duration(cfg.Sessions.WarnAfterMinutes) * time.Minute,
		FailAfter: time.Duration(cfg.Sessions.FailAfterMinutes) * time.Minute,
	}, reg, m)
	if err != nil {
		durable.Close()
		return nil, err
	}
	cleanup := monitor.NewStaleCleanup(reg, time.Duration(cfg.Sessions.RetentionMinutes)*time.Minute, m)

	monitors := monitor.NewRunner()
	if err := monitors.Add(timeout, time.Duration(cfg.Monitors.TimeoutSweepSeconds)*time.Second); err != nil {
		durable.Close()
		return nil, err
	}
	if err := monitors.Add(cleanup, time.Duration(cfg.Monitors.CleanupSweepSeconds)*time.Second); err != nil {
		durable.Close()
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		metrics:   m,
		durable:   durable,
		cache:     cache,
		events:    events,
		providers: providers,
		registry:  reg,
		monitors:  monitors,
	}, nil
}

func buildProviders(cfg *config.Config) (*provider.Registry, error) {
	providers := provider.NewRegistry()

	if cfg.Providers.Echo.Enabled {
		if err := providers.Register(echo.New()); err != nil {
			return nil, err
		}
	}
	if cfg.Providers.ClaudeCLI.Enabled {
		p := claudecli.New(claudecli.Config{
			Binary:      cfg.Providers.ClaudeCLI.Binary,
			MaxSessions: cfg.Providers.ClaudeCLI.MaxSessions,
		})
		if err := providers.Register(p); err != nil {
			return nil, err
		}
	}
	if cfg.Providers.Anthropic.Enabled {
		p := anthropic.New(anthropic.Config{
			APIKey:      cfg.Providers.Anthropic.APIKey,
			MaxSessions: cfg.Providers.Anthropic.MaxSessions,
		})
		if err := providers.Register(p); err != nil {
			return nil, err
		}
	}
	if cfg.Providers.OpenAI.Enabled {
		p := openai.New(openai.Config{
			APIKey:      cfg.Providers.OpenAI.APIKey,
			MaxSessions: cfg.Providers.OpenAI.MaxSessions,
		})
		if err := providers.Register(p); err != nil {
			return nil, err
		}
	}

	if providers.Count() == 0 {
		return nil, fmt.Errorf("no providers enabled")
	}
	if !providers.Exists(cfg.Providers.Default) {
		return nil, fmt.Errorf("default provider %q is not enabled", cfg.Providers.Default)
	}
	return providers, nil
}

// Start brings dependencies up in parallel and begins monitoring.
// Optional provider backends failing their health probe degrade the
// service instead of blocking startup.
func (s *Service) Start(ctx context.Context) (resilience.StartupReport, error) {
	init := resilience.NewInitializer(resilience.DefaultRetryConfig())

	init.AddCritical("durable_store", func(ctx context.Context) error {
		if err := s.durable.Ping(ctx); err != nil {
			return resilience.MarkTransient(err)
		}
		return nil
	})
	for _, name := range s.providers.Names() {
		p, err := s.providers.Get(name)
		if err != nil {
			continue
		}
		init.AddOptional("provider_"+name, func(ctx context.Context) error {
			if err := p.HealthCheck(ctx); err != nil {
				return resilience.MarkTransient(err)
			}
			return nil
		})
	}

	report, err := init.Run(ctx)
	if err != nil {
		return report, err
	}

	s.monitors.Start()

	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		s.metricsSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.MetricsPort),
			Handler: mux,
		}
		go func() {
			if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		log.Info().Int("port", s.cfg.Server.MetricsPort).Msg("Metrics endpoint started")
	}

	log.Info().
		Strs("providers", s.providers.Names()).
		Str("default_provider", s.cfg.Providers.Default).
		Msg("Service started")
	return report, nil
}

// Stop terminates all live sessions and shuts everything down.
func (s *Service) Stop(ctx context.Context) error {
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	s.monitors.Stop()

	summaries, err := s.registry.List(ctx, store.Filter{
		Statuses: []session.Status{
			session.StatusInitializing,
			session.StatusActive,
			session.StatusIdle,
			session.StatusWaitingInput,
		},
		Limit: 1000,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list live sessions at shutdown")
	}
	for _, sum := range summaries {
		if _, terr := s.registry.Terminate(ctx, sum.ID, "shutdown"); terr != nil {
			log.Warn().Err(terr).Str("session_id", sum.ID).Msg("Failed to terminate session at shutdown")
		}
	}

	s.events.Close()
	s.cache.Stop()
	if err := s.durable.Close(); err != nil {
		return fmt.Errorf("failed to close durable store: %w", err)
	}

	log.Info().Msg("Service stopped")
	return nil
}

// Registry exposes the session registry for transports built on top.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Events exposes the event bus for transports built on top.
func (s *Service) Events() bus.EventBus {
	return s.events
}

// CreateSession starts a session and returns its outward view.
func (s *Service) CreateSession(ctx context.Context, query, providerName string, cfg provider.SessionConfig) (session.Summary, error) {
	if providerName == "" {
		providerName = s.cfg.Providers.Default
	}
	sess, err := s.registry.Create(ctx, registry.CreateRequest{
		Query:    query,
		Provider: providerName,
		Config:   cfg,
	})
	if sess == nil {
		return session.Summary{}, err
	}
	return sess.Summarize(), err
}

// CreateSessionJSON starts a session from a raw JSON config document,
// validating it against the session config schema first.
func (s *Service) CreateSessionJSON(ctx context.Context, query, providerName string, rawCfg []byte) (session.Summary, error) {
	cfg, err := provider.ParseConfig(rawCfg)
	if err != nil {
		return session.Summary{}, err
	}
	return s.CreateSession(ctx, query, providerName, cfg)
}

// SessionEvents returns a session's recorded event history.
func (s *Service) SessionEvents(ctx context.Context, id string, limit int) ([]session.Event, error) {
	return s.registry.SessionEvents(ctx, id, limit)
}

// GetSession returns the outward view of one session.
func (s *Service) GetSession(ctx context.Context, id string) (session.Summary, error) {
	sess, err := s.registry.Get(ctx, id)
	if err != nil {
		return session.Summary{}, err
	}
	return sess.Summarize(), nil
}

// ListSessions returns matching session summaries.
func (s *Service) ListSessions(ctx context.Context, f store.Filter) ([]session.Summary, error) {
	return s.registry.List(ctx, f)
}

// SendInput forwards input to a session.
func (s *Service) SendInput(ctx context.Context, id, text string) (session.Summary, error) {
	sess, err := s.registry.SendInput(ctx, id, text)
	if err != nil {
		return session.Summary{}, err
	}
	return sess.Summarize(), nil
}

// TerminateSession ends a session, recording the caller's reason.
func (s *Service) TerminateSession(ctx context.Context, id, reason string) (session.Summary, error) {
	sess, err := s.registry.Terminate(ctx, id, reason)
	if err != nil {
		return session.Summary{}, err
	}
	return sess.Summarize(), nil
}

// SubscribeOutput attaches to a session's live output stream.
func (s *Service) SubscribeOutput(id string, replay bool) (<-chan provider.StreamEvent, func(), error) {
	return s.registry.Subscribe(id, replay)
}
