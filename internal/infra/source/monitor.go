package source

import (
	"strings"
	"sync"
	"time"
)

// Status represents the health state of a provider.
type Status int

const (
	StatusHealthy   Status = iota // Provider is working normally
	StatusDegraded                // Provider is slow or failing often
	StatusThrottled               // Provider is rate limiting
	StatusBlocked                 // Provider rejects our credentials
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MonitorStats holds monitoring statistics for a provider.
type MonitorStats struct {
	Status         Status        `json:"status"`
	AverageLatency time.Duration `json:"average_latency"`
	Requests       int           `json:"requests"`
	Failures       int           `json:"failures"`
	ThrottleCount  int           `json:"throttle_count"`
	AuthFailures   int           `json:"auth_failures"`
	RetryAfter     time.Duration `json:"retry_after"`
	LastSuccessAt  time.Time     `json:"last_success_at"`
	LastFailureAt  time.Time     `json:"last_failure_at"`
}

// Monitor tracks provider latency, throttling and failures.
type Monitor struct {
	mu sync.RWMutex

	latencies []time.Duration
	window    int

	requests      int
	failures      int
	throttleCount int
	authFailures  int
	lastThrottle  time.Time
	lastAuthFail  time.Time
	retryAfter    time.Duration
	lastSuccessAt time.Time
	lastFailureAt time.Time

	throttlePatterns []string
	slowThreshold    time.Duration
	degradedRate     float64
}

// NewMonitor creates a new monitor with default settings.
func NewMonitor() *Monitor {
	return &Monitor{
		latencies: make([]time.Duration, 0, 100),
		window:    100,
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"quota exceeded",
			"throttl",
		},
		slowThreshold: 5 * time.Second,
		degradedRate:  0.3,
	}
}

// RecordSuccess records a successful request with its latency.
func (m *Monitor) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.lastSuccessAt = time.Now()
	m.latencies = append(m.latencies, latency)
	if len(m.latencies) > m.window {
		m.latencies = m.latencies[1:]
	}
}

// RecordFailure records a failed request.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.failures++
	m.lastFailureAt = time.Now()
}

// RecordThrottle records a rate limiting response.
func (m *Monitor) RecordThrottle(retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.throttleCount++
	m.lastThrottle = time.Now()
	if retryAfter <= 0 {
		retryAfter = time.Minute
	}
	m.retryAfter = retryAfter
}

// RecordAuthFailure records a rejected credential or expired session.
func (m *Monitor) RecordAuthFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.authFailures++
	m.lastAuthFail = time.Now()
}

// DetectThrottlePattern checks if a message looks like throttling.
func (m *Monitor) DetectThrottlePattern(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range m.throttlePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// RetryAfter returns the remaining time before the provider accepts requests.
func (m *Monitor) RetryAfter() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retryAfterLocked()
}

func (m *Monitor) retryAfterLocked() time.Duration {
	if m.retryAfter <= 0 {
		return 0
	}
	remaining := m.retryAfter - time.Since(m.lastThrottle)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Status returns the current status of the provider.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() Status {
	// Repeated auth failures with no success since
	if m.authFailures >= 3 && m.lastAuthFail.After(m.lastSuccessAt) {
		return StatusBlocked
	}

	if m.retryAfterLocked() > 0 {
		return StatusThrottled
	}

	if m.requests >= 10 && float64(m.failures)/float64(m.requests) > m.degradedRate {
		return StatusDegraded
	}

	if len(m.latencies) >= 10 && m.averageLatencyLocked() > m.slowThreshold {
		return StatusDegraded
	}

	return StatusHealthy
}

func (m *Monitor) averageLatencyLocked() time.Duration {
	if len(m.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range m.latencies {
		total += l
	}
	return total / time.Duration(len(m.latencies))
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MonitorStats{
		Status:         m.statusLocked(),
		AverageLatency: m.averageLatencyLocked(),
		Requests:       m.requests,
		Failures:       m.failures,
		ThrottleCount:  m.throttleCount,
		AuthFailures:   m.authFailures,
		RetryAfter:     m.retryAfterLocked(),
		LastSuccessAt:  m.lastSuccessAt,
		LastFailureAt:  m.lastFailureAt,
	}
}
