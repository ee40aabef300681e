package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

func TestRecordRepo_SaveUpsertsBySourceKey(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordRepo(NewMemoryStorage())

	first := &domain.Record{Source: "crossref", ExternalID: "10.1/a", Title: "Old", FetchedAt: time.Now()}
	require.NoError(t, repo.Save(ctx, first))
	require.NotEmpty(t, first.ID)

	second := &domain.Record{Source: "crossref", ExternalID: "10.1/a", Title: "New", FetchedAt: time.Now()}
	require.NoError(t, repo.Save(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)

	n, err := repo.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestRecordRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordRepo(NewMemoryStorage())

	rec := &domain.Record{Source: "s", ExternalID: "1", Authors: []string{"A"}}
	rec.Add("dc.subject", "x")
	require.NoError(t, repo.Save(ctx, rec))

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	got.Authors[0] = "mutated"
	got.Add("dc.subject", "y")

	again, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, again.Authors)
	assert.Equal(t, []string{"x"}, again.Metadata["dc.subject"])
}

func TestRecordRepo_ListAndDOI(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordRepo(NewMemoryStorage())
	base := time.Now()

	for i, src := range []string{"scopus", "crossref", "scopus"} {
		require.NoError(t, repo.Save(ctx, &domain.Record{
			Source:     src,
			ExternalID: string(rune('a' + i)),
			DOI:        "10.1/shared",
			FetchedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := repo.List(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ExternalID)

	page, err := repo.List(ctx, "scopus", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ExternalID)

	empty, err := repo.List(ctx, "", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	byDOI, err := repo.GetByDOI(ctx, "10.1/shared")
	require.NoError(t, err)
	assert.Len(t, byDOI, 3)

	n, err := repo.Count(ctx, "scopus")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFailureRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewFailureRepo(NewMemoryStorage())
	base := time.Now().Add(-time.Hour)

	a := &domain.ImportFailure{Source: "scopus", ExternalID: "1", LastAttempt: base.Add(time.Minute)}
	b := &domain.ImportFailure{Source: "scopus", ExternalID: "2", LastAttempt: base}
	require.NoError(t, repo.Add(ctx, a))
	require.NoError(t, repo.Add(ctx, b))
	assert.Equal(t, domain.FailureStatusPending, a.Status)

	err := repo.Add(ctx, &domain.ImportFailure{Source: "scopus", ExternalID: "1"})
	assert.ErrorIs(t, err, storage.ErrDuplicateFailure)

	next, err := repo.GetNext(ctx, "scopus")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, b.ID, next.ID)

	require.NoError(t, repo.IncrementRetry(ctx, b.ID, "still down"))
	next, err = repo.GetNext(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, a.ID, next.ID)

	all, err := repo.GetAll(ctx, "scopus")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[1].RetryCount)
	assert.Equal(t, "still down", all[1].Error)

	require.NoError(t, repo.MarkResolved(ctx, a.ID))
	require.NoError(t, repo.MarkIgnored(ctx, b.ID))

	n, err := repo.Count(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	next, err = repo.GetNext(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, next)

	// A resolved entry no longer blocks a new failure for the same record.
	require.NoError(t, repo.Add(ctx, &domain.ImportFailure{Source: "scopus", ExternalID: "1"}))

	assert.ErrorIs(t, repo.MarkResolved(ctx, "missing"), storage.ErrFailureNotFound)
}

func TestFailureRepo_Prune(t *testing.T) {
	ctx := context.Background()
	repo := NewFailureRepo(NewMemoryStorage())

	done := &domain.ImportFailure{Source: "scopus", ExternalID: "1"}
	open := &domain.ImportFailure{Source: "scopus", ExternalID: "2"}
	require.NoError(t, repo.Add(ctx, done))
	require.NoError(t, repo.Add(ctx, open))
	require.NoError(t, repo.MarkResolved(ctx, done.ID))

	n, err := repo.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "finished too recently")

	n, err = repo.Prune(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, repo.MarkIgnored(ctx, done.ID), storage.ErrFailureNotFound)
	pending, err := repo.Count(ctx, "scopus")
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}
