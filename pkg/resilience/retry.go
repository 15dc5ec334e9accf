// Package resilience provides retry, circuit breaking, and parallel
// dependency initialization for the external services jelmore talks to.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Transient marks an error as safe to retry. Wrap dependency errors
// with it when the failure is expected to be temporary.
type Transient struct {
	Err error
}

func (t *Transient) Error() string {
	return fmt.Sprintf("transient: %v", t.Err)
}

func (t *Transient) Unwrap() error {
	return t.Err
}

// MarkTransient wraps err so Retry will attempt it again.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Err: err}
}

// IsTransient reports whether err was marked retryable.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// RetryConfig controls the backoff schedule.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
}

// DefaultRetryConfig matches the dependency startup schedule: five
// attempts, one second base, doubled per attempt, capped at thirty
// seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Factor:      2.0,
	}
}

// Retry runs op until it succeeds, returns a non-transient error, or
// the attempt budget is exhausted. Delays between attempts grow
// exponentially with full jitter.
func Retry(ctx context.Context, cfg RetryConfig, name string, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Factor < 1 {
		cfg.Factor = 2.0
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				log.Info().Str("operation", name).Int("attempt", attempt).Msg("Operation recovered after retry")
			}
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := jitter(delay)
		log.Warn().
			Str("operation", name).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(lastErr).
			Msg("Transient failure, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * cfg.Factor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, cfg.MaxAttempts, lastErr)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}
