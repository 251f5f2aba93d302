package health

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/vietddude/biomes-client/internal/loading/progress"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Monitor aggregates load progress and dependency checks.
type Monitor struct {
	checks     map[string]Check
	checkEvery time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	phase     string
	progress  *progress.Progress
	ready     bool
	degraded  bool
	failed    bool
	lastError string
	updatedAt time.Time

	lastCheck time.Time
	lastDeps  map[string]string
}

// NewMonitor creates a new health monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks:     make(map[string]Check),
		checkEvery: 10 * time.Second,
		now:        time.Now,
		phase:      "not_started",
	}
}

// AddCheck registers a dependency probe. Call before serving.
func (m *Monitor) AddCheck(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Observe records the latest load progress. It matches the sequencer observer signature.
func (m *Monitor) Observe(p progress.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = &p
	m.updatedAt = m.now()
}

// SetPhase records the sequencer phase.
func (m *Monitor) SetPhase(phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = phase
	m.updatedAt = m.now()
}

// SetResult records how the last load ended.
func (m *Monitor) SetResult(degraded bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = err == nil
	m.failed = err != nil
	m.degraded = degraded
	m.lastError = ""
	if err != nil {
		m.lastError = err.Error()
	}
	m.updatedAt = m.now()
}

// Reset clears the load result, e.g. when the client restarts.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready, m.degraded, m.failed = false, false, false
	m.lastError = ""
	m.progress = nil
	m.phase = "not_started"
	m.updatedAt = m.now()
}

// CheckHealth builds a report. Dependency probes run at most once per
// checkEvery; the cached results are reused in between.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	deps := m.dependencies(ctx)

	m.mu.RLock()
	defer m.mu.RUnlock()

	report := HealthReport{
		Phase:        m.phase,
		Degraded:     m.degraded,
		LastError:    m.lastError,
		UpdatedAt:    m.updatedAt,
		Dependencies: deps,
	}
	if m.progress != nil {
		p := *m.progress
		report.Progress = &p
	}

	switch {
	case m.failed:
		report.SystemStatus = StatusCritical
	case !m.ready:
		report.SystemStatus = StatusStarting
	case m.degraded:
		report.SystemStatus = StatusDegraded
	default:
		report.SystemStatus = StatusHealthy
	}
	if report.SystemStatus == StatusHealthy {
		for _, v := range deps {
			if v != "ok" {
				report.SystemStatus = StatusDegraded
				break
			}
		}
	}
	return report
}

func (m *Monitor) dependencies(ctx context.Context) map[string]string {
	m.mu.Lock()
	if len(m.checks) == 0 {
		m.mu.Unlock()
		return nil
	}
	if m.lastDeps != nil && m.now().Sub(m.lastCheck) < m.checkEvery {
		deps := maps.Clone(m.lastDeps)
		m.mu.Unlock()
		return deps
	}
	checks := maps.Clone(m.checks)
	m.mu.Unlock()

	deps := make(map[string]string, len(checks))
	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := check(checkCtx); err != nil {
			deps[name] = err.Error()
		} else {
			deps[name] = "ok"
		}
		cancel()
	}

	m.mu.Lock()
	m.lastDeps = deps
	m.lastCheck = m.now()
	m.mu.Unlock()
	return maps.Clone(deps)
}
