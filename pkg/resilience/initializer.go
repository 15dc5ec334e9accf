package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// InitFunc connects one dependency. Implementations wrap temporary
// failures with MarkTransient to get retried.
type InitFunc func(ctx context.Context) error

// serviceSpec is one registered dependency.
type serviceSpec struct {
	name     string
	critical bool
	init     InitFunc
}

// ServiceResult reports one dependency's startup outcome.
type ServiceResult struct {
	Name     string        `json:"name"`
	Critical bool          `json:"critical"`
	OK       bool          `json:"ok"`
	Err      error         `json:"-"`
	Detail   string        `json:"detail,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// StartupReport aggregates all dependency outcomes.
type StartupReport struct {
	Results []ServiceResult `json:"results"`
	Elapsed time.Duration   `json:"elapsed"`
}

// Healthy reports whether every critical dependency connected.
func (r StartupReport) Healthy() bool {
	for _, res := range r.Results {
		if res.Critical && !res.OK {
			return false
		}
	}
	return true
}

// Degraded reports whether any optional dependency failed while all
// critical ones connected.
func (r StartupReport) Degraded() bool {
	if !r.Healthy() {
		return false
	}
	for _, res := range r.Results {
		if !res.OK {
			return true
		}
	}
	return false
}

// Initializer connects registered dependencies in parallel, each with
// its own retry schedule. Startup succeeds when every critical
// dependency connects; optional failures degrade the service instead
// of blocking it.
type Initializer struct {
	retry    RetryConfig
	services []serviceSpec
}

// NewInitializer creates an initializer using the given retry schedule
// for every dependency.
func NewInitializer(retry RetryConfig) *Initializer {
	return &Initializer{retry: retry}
}

// AddCritical registers a dependency that must connect for startup to
// succeed.
func (i *Initializer) AddCritical(name string, fn InitFunc) {
	i.services = append(i.services, serviceSpec{name: name, critical: true, init: fn})
}

// AddOptional registers a dependency whose failure degrades rather
// than blocks startup.
func (i *Initializer) AddOptional(name string, fn InitFunc) {
	i.services = append(i.services, serviceSpec{name: name, critical: false, init: fn})
}

// Run connects all registered dependencies in parallel and waits for
// every attempt to settle. The report is returned even on error.
func (i *Initializer) Run(ctx context.Context) (StartupReport, error) {
	start := time.Now()
	results := make([]ServiceResult, len(i.services))

	var wg sync.WaitGroup
	for idx, svc := range i.services {
		wg.Add(1)
		go func(idx int, svc serviceSpec) {
			defer wg.Done()
			t0 := time.Now()
			err := Retry(ctx, i.retry, svc.name, svc.init)
			res := ServiceResult{
				Name:     svc.name,
				Critical: svc.critical,
				OK:       err == nil,
				Err:      err,
				Elapsed:  time.Since(t0),
			}
			if err != nil {
				res.Detail = err.Error()
			}
			results[idx] = res
		}(idx, svc)
	}
	wg.Wait()

	report := StartupReport{Results: results, Elapsed: time.Since(start)}

	for _, res := range report.Results {
		ev := log.Info()
		if !res.OK {
			ev = log.Error().Err(res.Err)
		}
		ev.Str("service", res.Name).
			Bool("critical", res.Critical).
			Dur("elapsed", res.Elapsed).
			Msg("Dependency initialization finished")
	}

	if !report.Healthy() {
		return report, fmt.Errorf("critical dependency initialization failed")
	}
	if report.Degraded() {
		log.Warn().Msg("Starting in degraded mode, optional dependencies unavailable")
	}
	return report, nil
}
