// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/harvester/internal/infra/budget"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Worse returns the more severe of two statuses.
func Worse(a, b SystemStatus) SystemStatus {
	rank := func(s SystemStatus) int {
		switch s {
		case StatusCritical:
			return 2
		case StatusDegraded:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// OperationHealth is the last retry operation seen on a source.
type OperationHealth struct {
	ID      string    `json:"id"`
	Attempt int       `json:"attempt"`
	Warning string    `json:"warning,omitempty"`
	Started time.Time `json:"started_at"`
}

// SourceHealth contains health metrics for one external source.
type SourceHealth struct {
	Source          string             `json:"source"`
	Status          SystemStatus       `json:"status"`
	Provider        string             `json:"provider_status"`
	PendingFailures int                `json:"pending_failures"`
	Requests        int                `json:"requests"`
	Failures        int                `json:"failures"`
	ThrottleCount   int                `json:"throttle_count"`
	RetryAfter      time.Duration      `json:"retry_after"`
	LastOperation   *OperationHealth   `json:"last_operation,omitempty"`
	Quota           *budget.UsageStats `json:"quota,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus            `json:"system_status"`
	Sources      map[string]SourceHealth `json:"sources"`
	Dependencies map[string]string       `json:"dependencies,omitempty"`
}
