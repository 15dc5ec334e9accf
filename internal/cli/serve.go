package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jelmore/jelmore/internal/config"
	"github.com/jelmore/jelmore/internal/logger"
	"github.com/jelmore/jelmore/internal/tracing"
	"github.com/jelmore/jelmore/pkg/service"
)

const shutdownGrace = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session orchestration service",
	Long: `Run the session orchestration service in the foreground until
interrupted. Sessions still live at shutdown are terminated and their
state persisted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()

	if err := tracing.Init("jelmore", version); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	svc, err := service.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := svc.Start(ctx)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	if report.Degraded() {
		log.Warn().Msg("Running degraded, some providers are unavailable")
	}

	// hot reload of the tunable knobs; structural changes need a restart
	watcher, err := config.NewWatcher(loader, func(next *config.Config) {
		if lvl, perr := zerolog.ParseLevel(next.Logging.Level); perr == nil {
			zerolog.SetGlobalLevel(lvl)
			log.Info().Str("level", next.Logging.Level).Msg("Log level reloaded")
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config hot reload unavailable")
	} else {
		defer watcher.Close()
	}

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := svc.Stop(shutdownCtx); err != nil {
		return err
	}
	return tracing.Shutdown(shutdownCtx)
}
