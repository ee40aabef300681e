package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/harvester/internal/core/domain"
)

// LookupResult is the outcome of querying several sources for one identifier.
type LookupResult struct {
	// Record merges the records matching the first source's record.
	Record *domain.Record
	// Unmatched holds merged records that describe other publications
	// (different DOI or title).
	Unmatched []*domain.Record
	// Found lists the records per source before merging.
	Found map[string]*domain.Record
	// Errors holds per-source failures.
	Errors map[string]error
}

// Lookup queries all sources concurrently for id and merges what they return.
// It fails only when no source returned a record.
func Lookup(ctx context.Context, id string, sources ...Source) (*LookupResult, error) {
	if len(sources) == 0 {
		return nil, errors.New("no sources configured")
	}

	res := &LookupResult{
		Found:  make(map[string]*domain.Record),
		Errors: make(map[string]error),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(4)

	for _, src := range sources {
		g.Go(func() error {
			rec, err := src.Fetch(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors[src.Name()] = err
				return nil
			}
			res.Found[src.Name()] = rec
			return nil
		})
	}
	_ = g.Wait()

	if len(res.Found) == 0 {
		errs := make([]error, 0, len(res.Errors))
		for _, name := range sortedKeys(res.Errors) {
			errs = append(errs, fmt.Errorf("%s: %w", name, res.Errors[name]))
		}
		return res, fmt.Errorf("lookup %s: %w", id, errors.Join(errs...))
	}

	ordered := make([]*domain.Record, 0, len(res.Found))
	for _, src := range sources {
		if rec, ok := res.Found[src.Name()]; ok {
			ordered = append(ordered, rec)
		}
	}
	merged := domain.MergeAll(ordered)
	res.Record, res.Unmatched = merged[0], merged[1:]
	return res, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
