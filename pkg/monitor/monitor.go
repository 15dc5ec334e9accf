// Package monitor runs the background jobs that keep session state
// honest: the timeout monitor and the stale cache cleanup.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Job is one scheduled maintenance task. RunOnce performs a single
// sweep and is what the scheduler invokes on every tick.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Runner schedules jobs on fixed intervals.
type Runner struct {
	cron *cron.Cron
	jobs []scheduled
}

type scheduled struct {
	job      Job
	interval time.Duration
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{cron: cron.New()}
}

// Add registers a job to run every interval.
func (r *Runner) Add(job Job, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	r.jobs = append(r.jobs, scheduled{job: job, interval: interval})

	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := job.RunOnce(ctx); err != nil {
			log.Error().Err(err).Str("job", job.Name()).Msg("Monitor sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
	}
	return nil
}

// Start begins running scheduled jobs.
func (r *Runner) Start() {
	for _, s := range r.jobs {
		log.Info().Str("job", s.job.Name()).Dur("interval", s.interval).Msg("Monitor scheduled")
	}
	r.cron.Start()
}

// Stop halts scheduling and waits for running sweeps to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
