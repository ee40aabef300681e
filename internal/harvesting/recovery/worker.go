package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/harvester/internal/harvesting/metrics"
	"github.com/vietddude/harvester/internal/infra/storage"
)

// Config holds recovery worker settings.
type Config struct {
	Interval     time.Duration `yaml:"interval"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxRetries   int           `yaml:"max_retries"`
	BatchSize    int           `yaml:"batch_size"`
	Retention    time.Duration `yaml:"retention"` // 0 keeps finished failures
}

// Strategy builds the backoff described by cfg, falling back to defaults.
func (c Config) Strategy() *ExponentialBackoff {
	s := DefaultBackoff(nil)
	if c.InitialDelay > 0 {
		s.InitialDelay = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		s.MaxDelay = c.MaxDelay
	}
	if c.MaxRetries > 0 {
		s.MaxAttempts = c.MaxRetries
	}
	return s
}

// Worker drains the failure queue of each source periodically.
type Worker struct {
	handler  *Handler
	repo     storage.FailureRepository
	sources  []string
	interval time.Duration
	batch    int
}

// NewWorker creates a worker retrying failures of the given sources.
func NewWorker(handler *Handler, repo storage.FailureRepository, sources []string, cfg Config) *Worker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &Worker{
		handler:  handler,
		repo:     repo,
		sources:  sources,
		interval: interval,
		batch:    batch,
	}
}

// Run processes the queue every interval until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce processes up to one batch per source and refreshes queue gauges.
func (w *Worker) RunOnce(ctx context.Context) {
	for _, source := range w.sources {
		w.drain(ctx, source)

		if n, err := w.repo.Count(ctx, source); err == nil {
			metrics.PendingFailures.WithLabelValues(source).Set(float64(n))
		}
	}
}

// drain visits the pending failures of source in queue order. Entries still
// inside their backoff are skipped, so one long wait does not hold back
// entries that are already due.
func (w *Worker) drain(ctx context.Context, source string) {
	pending, err := w.repo.GetAll(ctx, source)
	if err != nil {
		slog.Error("Failed to list failures", "source", source, "error", err)
		return
	}

	attempted := 0
	for _, f := range pending {
		if attempted >= w.batch || ctx.Err() != nil {
			return
		}

		outcome, err := w.handler.Process(ctx, f)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("Recovery failed", "source", source, "error", err)
			}
			return
		}
		if outcome != OutcomeWaiting {
			attempted++
		}
	}
}
