package recovery

import (
	"context"
	"log/slog"
	"time"
)

// FailurePruner is the part of the failure store the Pruner needs.
type FailurePruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Pruner deletes resolved and ignored failures older than the retention period.
type Pruner struct {
	repo      FailurePruner
	retention time.Duration
	now       func() time.Time
}

// NewPruner creates a new Pruner worker. A zero retention disables it.
func NewPruner(repo FailurePruner, retention time.Duration) *Pruner {
	return &Pruner{
		repo:      repo,
		retention: retention,
		now:       time.Now,
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check every 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune removes finished failures older than the retention period once.
func (p *Pruner) Prune(ctx context.Context) int {
	if p.retention <= 0 {
		return 0
	}

	n, err := p.repo.Prune(ctx, p.now().Add(-p.retention))
	if err != nil {
		slog.Error("Failed to prune finished failures", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("Pruned finished failures", "count", n, "retention", p.retention)
	}
	return n
}
