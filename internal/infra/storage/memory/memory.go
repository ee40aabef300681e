package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

type MemoryStorage struct {
	records  map[string]*domain.Record // by ID
	keys     map[string]string         // source:external_id -> ID
	failures map[string]*domain.ImportFailure
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records:  make(map[string]*domain.Record),
		keys:     make(map[string]string),
		failures: make(map[string]*domain.ImportFailure),
	}
}

// -----------------------------------------------------------------------------
// Record Repository
// -----------------------------------------------------------------------------

type RecordRepo struct {
	store *MemoryStorage
}

func NewRecordRepo(store *MemoryStorage) *RecordRepo {
	return &RecordRepo{store: store}
}

func (r *RecordRepo) Save(ctx context.Context, record *domain.Record) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if id, ok := r.store.keys[record.Key()]; ok {
		record.ID = id
	} else if record.ID == "" {
		record.ID = uuid.NewString()
	}
	r.store.keys[record.Key()] = record.ID
	r.store.records[record.ID] = cloneRecord(record)
	return nil
}

func (r *RecordRepo) Get(ctx context.Context, id string) (*domain.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if rec, ok := r.store.records[id]; ok {
		return cloneRecord(rec), nil
	}
	return nil, storage.ErrRecordNotFound
}

func (r *RecordRepo) GetByDOI(ctx context.Context, doi string) ([]*domain.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Record
	for _, rec := range r.store.records {
		if doi != "" && rec.DOI == doi {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (r *RecordRepo) List(ctx context.Context, source string, limit, offset int) ([]*domain.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.Record
	for _, rec := range r.store.records {
		if source == "" || rec.Source == source {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *RecordRepo) Count(ctx context.Context, source string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, rec := range r.store.records {
		if source == "" || rec.Source == source {
			n++
		}
	}
	return n, nil
}

// newest first, ties broken by key for stable listings
func sortRecords(recs []*domain.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].FetchedAt.Equal(recs[j].FetchedAt) {
			return recs[i].FetchedAt.After(recs[j].FetchedAt)
		}
		return recs[i].Key() < recs[j].Key()
	})
}

func cloneRecord(r *domain.Record) *domain.Record {
	c := *r
	c.Authors = append([]string(nil), r.Authors...)
	if r.Metadata != nil {
		c.Metadata = make(map[string][]string, len(r.Metadata))
		for k, vs := range r.Metadata {
			c.Metadata[k] = append([]string(nil), vs...)
		}
	}
	return &c
}

// -----------------------------------------------------------------------------
// Failure Repository
// -----------------------------------------------------------------------------

type FailureRepo struct{ store *MemoryStorage }

func NewFailureRepo(s *MemoryStorage) *FailureRepo { return &FailureRepo{store: s} }

func (r *FailureRepo) Add(ctx context.Context, f *domain.ImportFailure) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.failures {
		if existing.Status == domain.FailureStatusPending &&
			existing.Source == f.Source && existing.ExternalID == f.ExternalID {
			return storage.ErrDuplicateFailure
		}
	}

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = domain.FailureStatusPending
	}
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.LastAttempt.IsZero() {
		f.LastAttempt = now
	}

	c := *f
	r.store.failures[f.ID] = &c
	return nil
}

func (r *FailureRepo) GetNext(ctx context.Context, source string) (*domain.ImportFailure, error) {
	pending := r.pending(source)
	if len(pending) == 0 {
		return nil, nil
	}
	return pending[0], nil
}

func (r *FailureRepo) IncrementRetry(ctx context.Context, id string, errMsg string) error {
	return r.update(id, func(f *domain.ImportFailure) {
		f.RetryCount++
		f.LastAttempt = time.Now()
		if errMsg != "" {
			f.Error = errMsg
		}
	})
}

func (r *FailureRepo) MarkResolved(ctx context.Context, id string) error {
	return r.finish(id, domain.FailureStatusResolved)
}

func (r *FailureRepo) MarkIgnored(ctx context.Context, id string) error {
	return r.finish(id, domain.FailureStatusIgnored)
}

func (r *FailureRepo) GetAll(ctx context.Context, source string) ([]*domain.ImportFailure, error) {
	return r.pending(source), nil
}

func (r *FailureRepo) Count(ctx context.Context, source string) (int, error) {
	return len(r.pending(source)), nil
}

func (r *FailureRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	n := 0
	for id, f := range r.store.failures {
		if f.Status != domain.FailureStatusPending && f.LastAttempt.Before(before) {
			delete(r.store.failures, id)
			n++
		}
	}
	return n, nil
}

func (r *FailureRepo) finish(id string, status domain.FailureStatus) error {
	return r.update(id, func(f *domain.ImportFailure) {
		f.Status = status
		f.LastAttempt = time.Now()
	})
}

func (r *FailureRepo) update(id string, fn func(*domain.ImportFailure)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	f, ok := r.store.failures[id]
	if !ok {
		return storage.ErrFailureNotFound
	}
	fn(f)
	return nil
}

// pending returns copies of pending failures, oldest attempt first.
func (r *FailureRepo) pending(source string) []*domain.ImportFailure {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.ImportFailure
	for _, f := range r.store.failures {
		if f.Status != domain.FailureStatusPending {
			continue
		}
		if source != "" && f.Source != source {
			continue
		}
		c := *f
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAttempt.Equal(out[j].LastAttempt) {
			return out[i].LastAttempt.Before(out[j].LastAttempt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
