package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

var (
	// ErrRecordNotFound is returned when a record doesn't exist
	ErrRecordNotFound = errors.New("record not found")

	// ErrFailureNotFound is returned when a failure entry doesn't exist
	ErrFailureNotFound = errors.New("failure not found")

	// ErrDuplicateFailure is returned when a pending failure already exists
	// for the same source and external id
	ErrDuplicateFailure = errors.New("failure already queued")
)

// RecordRepository handles imported record storage
type RecordRepository interface {
	// Save inserts or updates a record keyed by source and external id.
	// An empty record ID is assigned on insert.
	Save(ctx context.Context, record *domain.Record) error

	// Get retrieves a record by ID
	Get(ctx context.Context, id string) (*domain.Record, error)

	// GetByDOI retrieves all records sharing a DOI
	GetByDOI(ctx context.Context, doi string) ([]*domain.Record, error)

	// List returns records of a source (all sources when empty), newest first
	List(ctx context.Context, source string, limit, offset int) ([]*domain.Record, error)

	// Count returns the number of records of a source (all sources when empty)
	Count(ctx context.Context, source string) (int, error)
}

// FailureRepository handles the import failure queue
type FailureRepository interface {
	// Add adds a failure
	Add(ctx context.Context, failure *domain.ImportFailure) error

	// GetNext retrieves the pending failure attempted longest ago.
	// Returns nil when the queue is empty.
	GetNext(ctx context.Context, source string) (*domain.ImportFailure, error)

	// IncrementRetry increments retry count and records the latest error
	IncrementRetry(ctx context.Context, id string, errMsg string) error

	// MarkResolved marks a failure as successfully retried
	MarkResolved(ctx context.Context, id string) error

	// MarkIgnored marks a failure as given up
	MarkIgnored(ctx context.Context, id string) error

	// GetAll retrieves all pending failures
	GetAll(ctx context.Context, source string) ([]*domain.ImportFailure, error)

	// Count returns the count of pending failures
	Count(ctx context.Context, source string) (int, error)

	// Prune deletes resolved and ignored failures finished before the given
	// time and returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
}
