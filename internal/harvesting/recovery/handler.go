package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

// Fetcher re-imports one record of a source.
type Fetcher func(ctx context.Context, source, externalID string) error

// Outcome is what ProcessNext did with the head of the queue.
type Outcome int

const (
	OutcomeIdle     Outcome = iota // queue empty
	OutcomeWaiting                 // not due yet
	OutcomeResolved                // retry succeeded
	OutcomeRetried                 // retry failed, stays queued
	OutcomeIgnored                 // given up
)

// Handler processes the import failure queue.
type Handler struct {
	repo     storage.FailureRepository
	fetcher  Fetcher
	strategy RetryStrategy
	now      func() time.Time
}

// NewHandler creates a new failure handler.
func NewHandler(
	repo storage.FailureRepository,
	fetcher Fetcher,
	strategy RetryStrategy,
) *Handler {
	return &Handler{
		repo:     repo,
		fetcher:  fetcher,
		strategy: strategy,
		now:      time.Now,
	}
}

// ProcessNext picks the next failure of source ("" for any) and retries it
// if backoff allows.
func (h *Handler) ProcessNext(ctx context.Context, source string) (Outcome, error) {
	f, err := h.repo.GetNext(ctx, source)
	if err != nil {
		return OutcomeIdle, fmt.Errorf("failed to get next failure: %w", err)
	}
	if f == nil {
		return OutcomeIdle, nil
	}
	return h.Process(ctx, f)
}

// Process retries one queued failure if its backoff has elapsed.
func (h *Handler) Process(ctx context.Context, f *domain.ImportFailure) (Outcome, error) {
	if !h.strategy.ShouldRetry(f) {
		return h.ignore(ctx, f)
	}

	delay := h.strategy.GetDelay(f.RetryCount)
	if h.now().Before(f.LastAttempt.Add(delay)) {
		return OutcomeWaiting, nil
	}

	err := h.fetcher(ctx, f.Source, f.ExternalID)
	if err == nil {
		if err := h.repo.MarkResolved(ctx, f.ID); err != nil {
			return OutcomeIdle, fmt.Errorf("failed to resolve failure %s: %w", f.ID, err)
		}
		slog.Info("Recovered failed import", "source", f.Source, "id", f.ExternalID, "retries", f.RetryCount+1)
		return OutcomeResolved, nil
	}

	if ctx.Err() != nil {
		return OutcomeIdle, ctx.Err()
	}

	if err := h.repo.IncrementRetry(ctx, f.ID, err.Error()); err != nil {
		return OutcomeIdle, fmt.Errorf("failed to increment retry: %w", err)
	}
	slog.Debug("Retry of failed import failed", "source", f.Source, "id", f.ExternalID, "error", err)

	f.RetryCount++
	if !h.strategy.ShouldRetry(f) {
		return h.ignore(ctx, f)
	}
	return OutcomeRetried, nil
}

func (h *Handler) ignore(ctx context.Context, f *domain.ImportFailure) (Outcome, error) {
	if err := h.repo.MarkIgnored(ctx, f.ID); err != nil {
		return OutcomeIdle, fmt.Errorf("failed to ignore failure %s: %w", f.ID, err)
	}
	slog.Warn("Giving up on failed import",
		"source", f.Source,
		"id", f.ExternalID,
		"type", f.FailureType,
		"retries", f.RetryCount,
	)
	return OutcomeIgnored, nil
}
