package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/harvesting/health"
	"github.com/vietddude/harvester/internal/harvesting/recovery"
	"github.com/vietddude/harvester/internal/infra/retry"
	"github.com/vietddude/harvester/internal/infra/source"
)

// provider serves a small fixed catalogue. Ids listed in down fail with 503
// until down is cleared.
type provider struct {
	down     atomic.Bool
	searches atomic.Int32
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/records":
		p.searches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total": 2,
			"records": []map[string]any{
				{"id": "q-1", "title": "Query One"},
				{"id": "q-2", "title": "Query Two"},
			},
		})
	case strings.HasPrefix(r.URL.Path, "/records/"):
		id := strings.TrimPrefix(r.URL.Path, "/records/")
		switch {
		case id == "missing":
			http.Error(w, "no such record", http.StatusNotFound)
		case id == "flaky" && p.down.Load():
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":    id,
				"doi":   "10.1/" + id,
				"title": "Record " + id,
			})
		}
	default:
		http.NotFound(w, r)
	}
}

func newTestHarvester(t *testing.T, urls ...string) *Harvester {
	t.Helper()

	cfg := &config.AppConfig{
		Recovery: recovery.Config{Interval: 20 * time.Millisecond, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 3},
	}
	for i, url := range urls {
		cfg.Sources = append(cfg.Sources, source.Config{
			Name:  []string{"crossref", "openaire"}[i],
			Type:  "http",
			URL:   url,
			Retry: retry.Policy{MaxAttempts: 1},
		})
	}

	h, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

func TestHarvester_ImportAndRecover(t *testing.T) {
	p := &provider{}
	p.down.Store(true)
	server := httptest.NewServer(p)
	defer server.Close()

	h := newTestHarvester(t, server.URL)
	ctx := context.Background()

	imp, err := h.Importer("crossref")
	require.NoError(t, err)

	report, err := imp.ImportIDs(ctx, []string{"a", "missing", "flaky"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 2, report.Failed)

	pending, err := h.Failures().GetAll(ctx, "crossref")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	rep := h.Health(ctx)
	assert.Equal(t, health.StatusDegraded, rep.SystemStatus)
	assert.Equal(t, 2, rep.Sources["crossref"].PendingFailures)

	p.down.Store(false)
	time.Sleep(10 * time.Millisecond)
	h.RetryFailures(ctx)

	pending, err = h.Failures().GetAll(ctx, "crossref")
	require.NoError(t, err)
	assert.Empty(t, pending, "missing is ignored, flaky is resolved")

	n, err := h.Records().Count(ctx, "crossref")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHarvester_UnknownSource(t *testing.T) {
	h := newTestHarvester(t)

	_, err := h.Importer("nope")
	assert.Error(t, err)

	_, err = h.Lookup(context.Background(), "x", "nope")
	assert.Error(t, err)
}

func TestHarvester_Lookup(t *testing.T) {
	a := httptest.NewServer(&provider{})
	defer a.Close()
	b := httptest.NewServer(&provider{})
	defer b.Close()

	h := newTestHarvester(t, a.URL, b.URL)

	res, err := h.Lookup(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.Equal(t, "Record r1", res.Record.Title)
	assert.Len(t, res.Found, 2)
	assert.Empty(t, res.Unmatched)
}

func TestHarvester_ScheduledImport(t *testing.T) {
	p := &provider{}
	server := httptest.NewServer(p)
	defer server.Close()

	h := newTestHarvester(t, server.URL)
	h.cfg.Schedule = []config.ScheduleConfig{
		{Source: "crossref", Query: "graphs", Every: 50 * time.Millisecond, PageSize: 10},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Start(ctx))

	assert.Eventually(t, func() bool {
		n, err := h.Records().Count(ctx, "crossref")
		return err == nil && n == 2
	}, 2*time.Second, 20*time.Millisecond)

	recs, err := h.Records().List(ctx, "crossref", 0, 0)
	require.NoError(t, err)
	for _, r := range recs {
		assert.Equal(t, domain.SourceName("crossref"), r.Source)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, h.Stop(stopCtx))
	assert.GreaterOrEqual(t, p.searches.Load(), int32(1))
}

func TestHarvester_InvalidSchedule(t *testing.T) {
	h := newTestHarvester(t)
	h.cfg.Schedule = []config.ScheduleConfig{{Source: "crossref", Query: "x", Cron: "not a cron"}}

	_, err := h.schedule(context.Background())
	assert.Error(t, err)
}
