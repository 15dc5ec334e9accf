package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jelmore/jelmore/pkg/session"
)

// BreakerState is the circuit position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker guards one external dependency. Consecutive failures
// past the threshold open the circuit; calls then fail fast until the
// cooldown elapses, after which a single probe decides whether to close
// it again.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	probeActive bool

	now     func() time.Time
	onState func(BreakerState)
}

// NewCircuitBreaker creates a closed breaker for the named dependency.
// threshold defaults to 3 and cooldown to 60 seconds when unset.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// OnStateChange registers a callback invoked on every circuit
// transition. The callback runs under the breaker lock and must not
// call back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	cb.mu.Lock()
	cb.onState = fn
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) setState(s BreakerState) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onState != nil {
		cb.onState(s)
	}
}

// State reports the current circuit position, accounting for cooldown
// expiry.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		return BreakerHalfOpen
	}
	return cb.state
}

// Execute runs op behind the breaker. While open, it fails fast with a
// DependencyUnavailable error without invoking op. In the half-open
// state only one probe call runs at a time.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := op(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return &session.DependencyUnavailable{
				Dependency: cb.name,
				Err:        fmt.Errorf("circuit open, retry after %s", cb.cooldown),
			}
		}
		cb.setState(BreakerHalfOpen)
		log.Info().Str("dependency", cb.name).Msg("Circuit half-open, probing")
		fallthrough
	case BreakerHalfOpen:
		if cb.probeActive {
			return &session.DependencyUnavailable{
				Dependency: cb.name,
				Err:        fmt.Errorf("circuit half-open, probe in flight"),
			}
		}
		cb.probeActive = true
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerHalfOpen {
		cb.probeActive = false
	}

	if err == nil {
		if cb.state != BreakerClosed {
			log.Info().Str("dependency", cb.name).Msg("Circuit closed")
		}
		cb.setState(BreakerClosed)
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.state == BreakerHalfOpen || cb.failures >= cb.threshold {
		cb.setState(BreakerOpen)
		cb.openedAt = cb.now()
		log.Warn().
			Str("dependency", cb.name).
			Int("failures", cb.failures).
			Dur("cooldown", cb.cooldown).
			Msg("Circuit opened")
	}
}
