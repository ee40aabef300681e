package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

const uniqueViolation = "23505"

const failureColumns = `id, run_id, source, external_id, operation_id, attempts, failure_type,
	error_msg, retry_count, status, last_attempt, created_at`

type failureRow struct {
	ID          string    `db:"id"`
	RunID       string    `db:"run_id"`
	Source      string    `db:"source"`
	ExternalID  string    `db:"external_id"`
	OperationID string    `db:"operation_id"`
	Attempts    int       `db:"attempts"`
	FailureType string    `db:"failure_type"`
	ErrorMsg    string    `db:"error_msg"`
	RetryCount  int       `db:"retry_count"`
	Status      string    `db:"status"`
	LastAttempt time.Time `db:"last_attempt"`
	CreatedAt   time.Time `db:"created_at"`
}

func (row failureRow) toDomain() *domain.ImportFailure {
	return &domain.ImportFailure{
		ID:          row.ID,
		RunID:       row.RunID,
		Source:      row.Source,
		ExternalID:  row.ExternalID,
		OperationID: row.OperationID,
		Attempts:    row.Attempts,
		FailureType: domain.FailureType(row.FailureType),
		Error:       row.ErrorMsg,
		RetryCount:  row.RetryCount,
		Status:      domain.FailureStatus(row.Status),
		LastAttempt: row.LastAttempt,
		CreatedAt:   row.CreatedAt,
	}
}

// FailureRepo implements storage.FailureRepository using PostgreSQL.
type FailureRepo struct {
	db *DB
}

// NewFailureRepo creates a new PostgreSQL failure repository.
func NewFailureRepo(db *DB) *FailureRepo {
	return &FailureRepo{db: db}
}

// Add adds a failure. A second pending failure for the same record returns
// storage.ErrDuplicateFailure.
func (r *FailureRepo) Add(ctx context.Context, f *domain.ImportFailure) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = domain.FailureStatusPending
	}
	if f.FailureType == "" {
		f.FailureType = domain.FailureTypeUnknown
	}
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.LastAttempt.IsZero() {
		f.LastAttempt = now
	}

	query := `
		INSERT INTO import_failures (` + failureColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		f.ID,
		f.RunID,
		f.Source,
		f.ExternalID,
		f.OperationID,
		f.Attempts,
		string(f.FailureType),
		f.Error,
		f.RetryCount,
		string(f.Status),
		f.LastAttempt,
		f.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s/%s: %w", f.Source, f.ExternalID, storage.ErrDuplicateFailure)
		}
		return fmt.Errorf("failed to add failure: %w", err)
	}
	return nil
}

// GetNext returns the pending failure attempted longest ago.
func (r *FailureRepo) GetNext(ctx context.Context, source string) (*domain.ImportFailure, error) {
	query := `
		SELECT ` + failureColumns + `
		FROM import_failures
		WHERE status = 'pending' AND ($1 = '' OR source = $1)
		ORDER BY last_attempt ASC, created_at ASC
		LIMIT 1
	`

	var row failureRow
	err := r.db.GetContext(ctx, &row, query, source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Queue empty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next failure: %w", err)
	}
	return row.toDomain(), nil
}

// IncrementRetry increments retry count and updates timestamp.
func (r *FailureRepo) IncrementRetry(ctx context.Context, id string, errMsg string) error {
	query := `
		UPDATE import_failures
		SET retry_count = retry_count + 1,
			last_attempt = NOW(),
			error_msg = CASE WHEN $2 = '' THEN error_msg ELSE $2 END
		WHERE id = $1
	`
	return r.exec(ctx, query, id, errMsg)
}

// MarkResolved marks a failure as resolved.
func (r *FailureRepo) MarkResolved(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE import_failures SET status = 'resolved', last_attempt = NOW() WHERE id = $1`, id)
}

// MarkIgnored marks a failure as given up.
func (r *FailureRepo) MarkIgnored(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE import_failures SET status = 'ignored', last_attempt = NOW() WHERE id = $1`, id)
}

// GetAll returns all pending failures (for debugging/monitoring).
func (r *FailureRepo) GetAll(ctx context.Context, source string) ([]*domain.ImportFailure, error) {
	query := `
		SELECT ` + failureColumns + `
		FROM import_failures
		WHERE status = 'pending' AND ($1 = '' OR source = $1)
		ORDER BY last_attempt ASC, created_at ASC
	`

	var rows []failureRow
	if err := r.db.SelectContext(ctx, &rows, query, source); err != nil {
		return nil, fmt.Errorf("failed to get all failures: %w", err)
	}

	failures := make([]*domain.ImportFailure, 0, len(rows))
	for _, row := range rows {
		failures = append(failures, row.toDomain())
	}
	return failures, nil
}

// Count returns the number of pending failures.
func (r *FailureRepo) Count(ctx context.Context, source string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM import_failures
		WHERE status = 'pending' AND ($1 = '' OR source = $1)
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, source); err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return count, nil
}

// Prune deletes finished failures last touched before the given time.
func (r *FailureRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM import_failures WHERE status <> 'pending' AND last_attempt < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune failures: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune failures: %w", err)
	}
	return int(n), nil
}

func (r *FailureRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update failure: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update failure: %w", err)
	}
	if n == 0 {
		return storage.ErrFailureNotFound
	}
	return nil
}
