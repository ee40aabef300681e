// Package source implements clients for external metadata providers.
//
// This package contains:
//   - Source interface: fetch and search bibliographic records
//   - HTTPSource: REST/JSON providers
//   - GRPCSource: providers exposing a unary gRPC lookup method
//   - Monitor: latency and throttle tracking per provider
//   - TokenSource: session tokens refreshed by the retry handlers
//   - Retrying: a Source whose calls go through a retry.Executor
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/retry"
)

var (
	// ErrUnauthorized is returned when the provider rejects the credentials or session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when the provider has no record for the identifier.
	ErrNotFound = errors.New("record not found")
)

// Source defines the interface for an external metadata provider.
type Source interface {
	// Name returns the provider identifier (e.g. "scopus", "crossref")
	Name() string

	// Fetch retrieves one record by its provider identifier
	Fetch(ctx context.Context, id string) (*domain.Record, error)

	// Search returns up to count records matching query, starting at offset start
	Search(ctx context.Context, query string, start, count int) ([]*domain.Record, error)

	// Close releases connections
	Close() error
}

// Config holds settings for one provider.
type Config struct {
	Name         string        `yaml:"name"`
	Type         string        `yaml:"type"` // http, grpc
	URL          string        `yaml:"url"`
	Method       string        `yaml:"method"`        // gRPC fetch method, e.g. /lookup.v1.Lookup/Get
	SearchMethod string        `yaml:"search_method"` // gRPC search method
	APIKey       string        `yaml:"api_key"`
	TokenURL     string        `yaml:"token_url"`
	Timeout      time.Duration `yaml:"timeout"`
	DailyQuota   int           `yaml:"daily_quota"` // 0 = unlimited

	Retry retry.Policy `yaml:"retry"`
}

// StatusError is a non-success response that is neither throttling nor auth.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Temporary reports whether the failure is a server-side error worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500
}

// RateLimitError is returned when the provider throttles the client.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}
