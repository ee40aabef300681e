package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/harvester/internal/infra/budget"
	"github.com/vietddude/harvester/internal/infra/retry"
	"github.com/vietddude/harvester/internal/infra/source"
)

// Probe exposes the state of a retrying source.
type Probe interface {
	Name() string
	Stats() source.MonitorStats
	Executor() *retry.Executor
	Quota() *budget.UsageStats // nil when calls are not counted
}

// FailureCounter counts pending import failures of a source.
type FailureCounter interface {
	Count(ctx context.Context, source string) (int, error)
}

// Checker reports whether a dependency (database, redis) is reachable.
type Checker func(ctx context.Context) error

// Monitor aggregates health status from sources and dependencies.
type Monitor struct {
	probes       []Probe
	failures     FailureCounter
	dependencies map[string]Checker
	cacheFor     time.Duration

	lastCheck  time.Time
	lastReport HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(probes []Probe, failures FailureCounter, dependencies map[string]Checker) *Monitor {
	return &Monitor{
		probes:       probes,
		failures:     failures,
		dependencies: dependencies,
		cacheFor:     10 * time.Second,
	}
}

// CheckHealth performs a health check of all sources and dependencies.
// Results are cached briefly to keep probes cheap.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastCheck.IsZero() && time.Since(m.lastCheck) < m.cacheFor {
		return m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Sources:      make(map[string]SourceHealth, len(m.probes)),
	}

	for _, p := range m.probes {
		h := m.checkSource(ctx, p)
		report.Sources[h.Source] = h
		report.SystemStatus = Worse(report.SystemStatus, h.Status)
	}

	if len(m.dependencies) > 0 {
		report.Dependencies = make(map[string]string, len(m.dependencies))
		for name, check := range m.dependencies {
			if err := check(ctx); err != nil {
				report.Dependencies[name] = err.Error()
				report.SystemStatus = StatusCritical
				continue
			}
			report.Dependencies[name] = "ok"
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func (m *Monitor) checkSource(ctx context.Context, p Probe) SourceHealth {
	stats := p.Stats()
	h := SourceHealth{
		Source:        p.Name(),
		Status:        StatusHealthy,
		Provider:      stats.Status.String(),
		Requests:      stats.Requests,
		Failures:      stats.Failures,
		ThrottleCount: stats.ThrottleCount,
		RetryAfter:    stats.RetryAfter,
	}

	if op := p.Executor().LastOperation(); op.ID != "" {
		h.LastOperation = &OperationHealth{
			ID:      op.ID,
			Attempt: op.Attempt,
			Warning: op.Warning,
			Started: op.StartedAt,
		}
	}

	h.Quota = p.Quota()

	if m.failures != nil {
		if n, err := m.failures.Count(ctx, h.Source); err == nil {
			h.PendingFailures = n
		}
	}

	switch stats.Status {
	case source.StatusBlocked:
		h.Status = StatusCritical
	case source.StatusThrottled, source.StatusDegraded:
		h.Status = StatusDegraded
	}

	if q := h.Quota; q != nil && q.DailyLimit > 0 {
		switch {
		case q.RemainingCalls == 0:
			h.Status = StatusCritical
		case q.UsagePercentage >= 90:
			h.Status = Worse(h.Status, StatusDegraded)
		}
	}

	if h.PendingFailures > 50 {
		h.Status = StatusCritical
	} else if h.PendingFailures > 0 {
		h.Status = Worse(h.Status, StatusDegraded)
	}
	return h
}
