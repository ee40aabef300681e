package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

const recordColumns = `id, source, external_id, doi, title, authors, published, metadata, fetched_at`

type recordRow struct {
	ID         string         `db:"id"`
	Source     string         `db:"source"`
	ExternalID string         `db:"external_id"`
	DOI        string         `db:"doi"`
	Title      string         `db:"title"`
	Authors    pq.StringArray `db:"authors"`
	Published  string         `db:"published"`
	Metadata   []byte         `db:"metadata"`
	FetchedAt  time.Time      `db:"fetched_at"`
}

func (row recordRow) toDomain() (*domain.Record, error) {
	rec := &domain.Record{
		ID:         row.ID,
		Source:     row.Source,
		ExternalID: row.ExternalID,
		DOI:        row.DOI,
		Title:      row.Title,
		Authors:    []string(row.Authors),
		Published:  row.Published,
		FetchedAt:  row.FetchedAt,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", row.ID, err)
		}
	}
	return rec, nil
}

// RecordRepo implements storage.RecordRepository using PostgreSQL.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new PostgreSQL record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// Save upserts a record on (source, external_id).
func (r *RecordRepo) Save(ctx context.Context, rec *domain.Record) error {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string][]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	fetchedAt := rec.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	query := `
		INSERT INTO records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source, external_id) DO UPDATE SET
			doi = EXCLUDED.doi,
			title = EXCLUDED.title,
			authors = EXCLUDED.authors,
			published = EXCLUDED.published,
			metadata = EXCLUDED.metadata,
			fetched_at = EXCLUDED.fetched_at
		RETURNING id
	`
	err = r.db.QueryRowxContext(
		ctx,
		query,
		id,
		rec.Source,
		rec.ExternalID,
		rec.DOI,
		rec.Title,
		pq.StringArray(rec.Authors),
		rec.Published,
		metaJSON,
		fetchedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.Key(), err)
	}
	rec.FetchedAt = fetchedAt
	return nil
}

// Get retrieves a record by ID.
func (r *RecordRepo) Get(ctx context.Context, id string) (*domain.Record, error) {
	var row recordRow
	err := r.db.GetContext(ctx, &row, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return row.toDomain()
}

// GetByDOI retrieves all records sharing a DOI.
func (r *RecordRepo) GetByDOI(ctx context.Context, doi string) ([]*domain.Record, error) {
	if doi == "" {
		return nil, nil
	}
	query := `SELECT ` + recordColumns + ` FROM records WHERE doi = $1 ORDER BY fetched_at DESC, source, external_id`
	return r.selectRecords(ctx, query, doi)
}

// List returns records newest first.
func (r *RecordRepo) List(
	ctx context.Context,
	source string,
	limit, offset int,
) ([]*domain.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE ($1 = '' OR source = $1)
		ORDER BY fetched_at DESC, source, external_id
		LIMIT NULLIF($2, 0) OFFSET $3
	`
	return r.selectRecords(ctx, query, source, limit, offset)
}

// Count returns the number of stored records.
func (r *RecordRepo) Count(ctx context.Context, source string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM records WHERE ($1 = '' OR source = $1)`, source)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

func (r *RecordRepo) selectRecords(ctx context.Context, query string, args ...any) ([]*domain.Record, error) {
	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]*domain.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
