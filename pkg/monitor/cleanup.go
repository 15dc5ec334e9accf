package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jelmore/jelmore/internal/metrics"
	"github.com/jelmore/jelmore/pkg/registry"
)

// DefaultRetention is how long a terminal session stays readable from
// the cache before eviction.
const DefaultRetention = time.Hour

// StaleCleanup evicts cache entries for terminal sessions past the
// retention window and reconciles orphans whose durable record
// disappeared. All work goes through the registry; durable history is
// never deleted.
type StaleCleanup struct {
	registry  *registry.Registry
	retention time.Duration
	metrics   *metrics.Metrics
}

// NewStaleCleanup creates a cleanup job. A non-positive retention
// falls back to DefaultRetention.
func NewStaleCleanup(reg *registry.Registry, retention time.Duration, m *metrics.Metrics) *StaleCleanup {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &StaleCleanup{registry: reg, retention: retention, metrics: m}
}

func (c *StaleCleanup) Name() string { return "stale_cleanup" }

// RunOnce sweeps the cache once.
func (c *StaleCleanup) RunOnce(ctx context.Context) error {
	evicted, orphans, err := c.registry.EvictStale(ctx, c.retention)
	if err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.StaleEvictionsTotal.Add(float64(evicted))
		c.metrics.OrphansReconciledTotal.Add(float64(orphans))
	}
	if evicted > 0 || orphans > 0 {
		log.Info().
			Int("evicted", evicted).
			Int("orphans", orphans).
			Msg("Stale cache entries cleaned")
	}
	return nil
}
