// Package importer pulls records from external sources into the record store.
//
// A batch never aborts on a single record: a failed fetch or save becomes a
// pending ImportFailure for the recovery worker and the batch moves on.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/harvesting/metrics"
	"github.com/vietddude/harvester/internal/infra/retry"
	"github.com/vietddude/harvester/internal/infra/storage"
)

// ErrStore marks failures to persist a fetched record.
var ErrStore = errors.New("store record")

// Source is the subset of a provider the importer needs.
type Source interface {
	Name() string
	Fetch(ctx context.Context, id string) (*domain.Record, error)
	Search(ctx context.Context, query string, start, count int) ([]*domain.Record, error)
}

// Importer imports records of one source.
type Importer struct {
	src      Source
	records  storage.RecordRepository
	failures storage.FailureRepository
	log      *slog.Logger
}

// New creates an importer for src.
func New(src Source, records storage.RecordRepository, failures storage.FailureRepository) *Importer {
	return &Importer{
		src:      src,
		records:  records,
		failures: failures,
		log:      slog.Default().With("source", src.Name()),
	}
}

// Source returns the source name.
func (i *Importer) Source() string {
	return i.src.Name()
}

// ImportIDs fetches and stores each identifier. Per-record failures are
// queued and reported; the returned error is non-nil only when ctx ends
// the batch early.
func (i *Importer) ImportIDs(ctx context.Context, ids []string) (*domain.Report, error) {
	report := i.newReport()
	i.log.Info("Import started", "run", report.RunID, "ids", len(ids))

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return i.finish(report), err
		}

		rec, err := i.src.Fetch(ctx, id)
		if err != nil {
			i.fail(ctx, report, id, err)
			continue
		}
		i.store(ctx, report, id, rec)
	}

	return i.finish(report), nil
}

// ImportQuery pages through search results, pageSize records at a time,
// stopping after limit records (no limit when limit <= 0). A failing page
// ends the run with the records stored so far.
func (i *Importer) ImportQuery(
	ctx context.Context,
	query string,
	pageSize, limit int,
) (*domain.Report, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	report := i.newReport()
	i.log.Info("Query import started", "run", report.RunID, "query", query)

	for start := 0; limit <= 0 || start < limit; start += pageSize {
		count := pageSize
		if limit > 0 && start+count > limit {
			count = limit - start
		}

		page, err := i.src.Search(ctx, query, start, count)
		if err != nil {
			return i.finish(report), fmt.Errorf("search %q at %d: %w", query, start, err)
		}

		for _, rec := range page {
			i.store(ctx, report, rec.ExternalID, rec)
		}
		if len(page) < count {
			break
		}
	}

	return i.finish(report), nil
}

// Reimport fetches and stores one record without queueing a failure.
// The recovery worker uses it to retry queued failures.
func (i *Importer) Reimport(ctx context.Context, id string) error {
	rec, err := i.src.Fetch(ctx, id)
	if err != nil {
		return err
	}
	if err := i.records.Save(ctx, rec); err != nil {
		return fmt.Errorf("%w %s: %w", ErrStore, rec.Key(), err)
	}
	metrics.RecordsImported.WithLabelValues(i.src.Name()).Inc()
	return nil
}

func (i *Importer) newReport() *domain.Report {
	return &domain.Report{
		RunID:     ulid.Make().String(),
		Source:    i.src.Name(),
		StartedAt: time.Now(),
	}
}

func (i *Importer) finish(report *domain.Report) *domain.Report {
	report.FinishedAt = time.Now()
	i.log.Info("Import finished",
		"run", report.RunID,
		"imported", report.Imported,
		"failed", report.Failed,
		"elapsed", report.FinishedAt.Sub(report.StartedAt),
	)
	return report
}

func (i *Importer) store(ctx context.Context, report *domain.Report, id string, rec *domain.Record) {
	if err := i.records.Save(ctx, rec); err != nil {
		i.fail(ctx, report, id, fmt.Errorf("%w %s: %w", ErrStore, rec.Key(), err))
		return
	}

	metrics.RecordsImported.WithLabelValues(i.src.Name()).Inc()
	report.Append(domain.RecordResult{
		ExternalID: id,
		Status:     domain.RecordStatusImported,
		RecordID:   rec.ID,
	})
}

func (i *Importer) fail(ctx context.Context, report *domain.Report, id string, err error) {
	failure := NewFailure(report.RunID, i.src.Name(), id, err)

	report.Append(domain.RecordResult{
		ExternalID:  id,
		Status:      domain.RecordStatusFailed,
		OperationID: failure.OperationID,
		Error:       err.Error(),
	})
	metrics.FailuresRecorded.WithLabelValues(i.src.Name(), string(failure.FailureType)).Inc()

	// Queue the failure even when ctx was cancelled mid-record.
	qctx := context.WithoutCancel(ctx)
	if qerr := i.failures.Add(qctx, failure); qerr != nil {
		if errors.Is(qerr, storage.ErrDuplicateFailure) {
			i.log.Debug("Failure already queued", "id", id)
			return
		}
		i.log.Error("Failed to queue import failure", "id", id, "error", qerr)
		return
	}
	i.log.Warn("Record import failed",
		"id", id,
		"op", failure.OperationID,
		"type", failure.FailureType,
		"error", err,
	)
}

// NewFailure builds the failure entry for a record that could not be imported.
func NewFailure(runID, source, externalID string, err error) *domain.ImportFailure {
	now := time.Now()
	f := &domain.ImportFailure{
		RunID:       runID,
		Source:      source,
		ExternalID:  externalID,
		FailureType: FailureTypeOf(err),
		Error:       err.Error(),
		Status:      domain.FailureStatusPending,
		LastAttempt: now,
		CreatedAt:   now,
	}
	if te, ok := retry.AsTerminal(err); ok {
		f.OperationID = te.OperationID
		f.Attempts = te.Attempts
	}
	return f
}

// FailureTypeOf maps an import error to a failure type.
func FailureTypeOf(err error) domain.FailureType {
	te, ok := retry.AsTerminal(err)
	if !ok {
		if errors.Is(err, ErrStore) {
			return domain.FailureTypeStorage
		}
		return domain.FailureTypeUnknown
	}

	switch te.Kind {
	case retry.KindInit:
		return domain.FailureTypeInit
	case retry.KindUnrecoverable:
		return domain.FailureTypeUnrecoverable
	case retry.KindExhausted:
		return domain.FailureTypeExhausted
	case retry.KindInterrupted:
		return domain.FailureTypeInterrupted
	}
	return domain.FailureTypeUnknown
}
