package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/budget"
	"github.com/vietddude/harvester/internal/infra/retry"
)

// Retrying is a Source whose calls go through a retry.Executor.
type Retrying struct {
	src   Source
	exec  *retry.Executor
	quota *budget.Tracker
}

// NewRetrying wraps src with exec.
func NewRetrying(src Source, exec *retry.Executor) *Retrying {
	return &Retrying{src: src, exec: exec}
}

// New builds the provider described by cfg, wrapped with its own executor.
// Before each attempt the executor reserves a call from quota (nil for none)
// and refreshes the session when none is held.
func New(cfg Config, observer retry.Observer, quota *budget.Tracker) (*Retrying, error) {
	var (
		src    Source
		tokens *TokenSource
	)

	switch cfg.Type {
	case "", "http":
		s := NewHTTPSource(cfg)
		src, tokens = s, s.Tokens()
	case "grpc":
		s, err := NewGRPCSource(cfg)
		if err != nil {
			return nil, err
		}
		src, tokens = s, s.Tokens()
	default:
		return nil, fmt.Errorf("unknown source type %q for %s", cfg.Type, cfg.Name)
	}

	prepare := tokens.Ensure
	if quota != nil {
		quota.SetLimit(cfg.Name, cfg.DailyQuota)
		prepare = func(ctx context.Context) error {
			if err := quota.Reserve(cfg.Name); err != nil {
				return err
			}
			return tokens.Ensure(ctx)
		}
	}

	exec := retry.NewExecutor(
		cfg.Retry,
		NewClassifier(tokens),
		retry.WithName(cfg.Name),
		retry.WithObserver(observer),
		retry.WithLogger(slog.Default().With("source", cfg.Name)),
		retry.WithInit(prepare),
	)
	r := NewRetrying(src, exec)
	r.quota = quota
	return r, nil
}

// Name returns the wrapped provider's name.
func (r *Retrying) Name() string {
	return r.src.Name()
}

// Executor returns the executor guarding the provider.
func (r *Retrying) Executor() *retry.Executor {
	return r.exec
}

// Fetch retrieves one record, retrying recoverable failures.
func (r *Retrying) Fetch(ctx context.Context, id string) (*domain.Record, error) {
	return retry.Execute(ctx, r.exec, func(ctx context.Context) (*domain.Record, error) {
		return r.src.Fetch(ctx, id)
	})
}

// Search returns records matching query, retrying recoverable failures.
func (r *Retrying) Search(
	ctx context.Context,
	query string,
	start, count int,
) ([]*domain.Record, error) {
	return retry.Execute(ctx, r.exec, func(ctx context.Context) ([]*domain.Record, error) {
		return r.src.Search(ctx, query, start, count)
	})
}

// Close closes the wrapped provider.
func (r *Retrying) Close() error {
	return r.src.Close()
}

// Stats returns the wrapped provider's monitoring statistics.
func (r *Retrying) Stats() MonitorStats {
	switch s := r.src.(type) {
	case *HTTPSource:
		return s.Monitor.Stats()
	case *GRPCSource:
		return s.Monitor.Stats()
	}
	return MonitorStats{}
}

// Quota returns today's call usage, or nil when calls are not tracked.
func (r *Retrying) Quota() *budget.UsageStats {
	if r.quota == nil {
		return nil
	}
	u := r.quota.Usage(r.Name())
	return &u
}
