package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/harvester/internal/infra/budget"
	"github.com/vietddude/harvester/internal/infra/retry"
)

func TestHTTPSource_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/records/10.1000%2F182", r.URL.EscapedPath())
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "10.1000/182",
			"doi":       "10.1000/182",
			"title":     "A Handbook",
			"authors":   []string{"Ada Lovelace"},
			"published": "2020",
			"metadata":  map[string][]string{"dc.language": {"en"}},
		})
	}))
	defer server.Close()

	src := NewHTTPSource(Config{Name: "crossref", URL: server.URL, APIKey: "secret", Timeout: 5 * time.Second})

	rec, err := src.Fetch(context.Background(), "10.1000/182")
	require.NoError(t, err)
	assert.Equal(t, "crossref", rec.Source)
	assert.Equal(t, "10.1000/182", rec.ExternalID)
	assert.Equal(t, "A Handbook", rec.Title)
	assert.Equal(t, []string{"Ada Lovelace"}, rec.Authors)
	assert.Equal(t, "en", rec.First("dc.language"))
	assert.False(t, rec.FetchedAt.IsZero())
	assert.Equal(t, 1, src.Monitor.Stats().Requests)
}

func TestHTTPSource_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/records", r.URL.Path)
		assert.Equal(t, "graphs", r.URL.Query().Get("query"))
		assert.Equal(t, "20", r.URL.Query().Get("start"))
		assert.Equal(t, "10", r.URL.Query().Get("count"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"total": 2,
			"records": []map[string]any{
				{"id": "a", "title": "A"},
				{"id": "b", "title": "B"},
			},
		})
	}))
	defer server.Close()

	src := NewHTTPSource(Config{Name: "scopus", URL: server.URL + "/"})

	recs, err := src.Search(context.Background(), "graphs", 20, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[1].ExternalID)
}

func TestHTTPSource_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		header  map[string]string
		body    string
		check   func(t *testing.T, err error)
		monitor func(t *testing.T, s MonitorStats)
	}{
		{
			name:   "rate limited with retry-after",
			status: http.StatusTooManyRequests,
			header: map[string]string{"Retry-After": "3"},
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 3*time.Second, rl.RetryAfter)
			},
			monitor: func(t *testing.T, s MonitorStats) {
				assert.Equal(t, 1, s.ThrottleCount)
				assert.Equal(t, StatusThrottled, s.Status)
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnauthorized)
			},
			monitor: func(t *testing.T, s MonitorStats) {
				assert.Equal(t, 1, s.AuthFailures)
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   "upstream down",
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusBadGateway, se.Code)
				assert.True(t, se.Temporary())
			},
		},
		{
			name:   "quota message in client error",
			status: http.StatusBadRequest,
			body:   "quota parameter is invalid",
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusBadRequest, se.Code)
				assert.False(t, se.Temporary())
			},
			monitor: func(t *testing.T, s MonitorStats) {
				assert.Zero(t, s.ThrottleCount)
			},
		},
		{
			name:   "throttle pattern in body",
			status: http.StatusServiceUnavailable,
			body:   "Daily Quota Exceeded",
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				require.ErrorAs(t, err, &rl)
			},
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   "invalid id",
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.False(t, se.Temporary())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			src := NewHTTPSource(Config{Name: "test", URL: server.URL})
			_, err := src.Fetch(context.Background(), "x")
			require.Error(t, err)
			tt.check(t, err)
			if tt.monitor != nil {
				tt.monitor(t, src.Monitor.Stats())
			}
		})
	}
}

func TestHTTPSource_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer server.Close()

	src := NewHTTPSource(Config{Name: "test", URL: server.URL})
	_, err := src.Fetch(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, 1, src.Monitor.Stats().Failures)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 5*time.Second, parseRetryAfter(" 5 "))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 59*time.Minute)
}

// sessionServer accepts record requests only with the token it issued last.
func sessionServer(t *testing.T, tokenCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	var current atomic.Value
	current.Store("")

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["api_key"] != "key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		n := tokenCalls.Add(1)
		token := "tok-" + string(rune('0'+n))
		current.Store(token)
		_ = json.NewEncoder(w).Encode(map[string]any{"token": token, "expires_in": 3600})
	})
	mux.HandleFunc("/records/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+current.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "1", "title": "ok"})
	})
	return httptest.NewServer(mux)
}

func TestRetrying_RefreshesSessionOnUnauthorized(t *testing.T) {
	var tokenCalls atomic.Int32
	server := sessionServer(t, &tokenCalls)
	defer server.Close()

	src, err := New(Config{
		Name:     "orcid",
		URL:      server.URL,
		APIKey:   "key",
		TokenURL: server.URL + "/token",
		Retry:    retry.Policy{MaxAttempts: 2},
	}, nil, nil)
	require.NoError(t, err)
	defer src.Close()

	// Init hook obtains the first session.
	rec, err := src.Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "ok", rec.Title)
	assert.Equal(t, int32(1), tokenCalls.Load())

	// Invalidate the session server-side; the handler must refresh it.
	resp, err := http.Post(server.URL+"/token", "application/json", strings.NewReader(`{"api_key":"key"}`))
	require.NoError(t, err)
	resp.Body.Close()

	rec, err = src.Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "ok", rec.Title)
	assert.Equal(t, int32(3), tokenCalls.Load())
	assert.Equal(t, 1, src.Executor().LastOperation().Attempt)
}

func TestRetrying_UnauthorizedWithoutTokenEndpointIsFatal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	src, err := New(Config{Name: "static", URL: server.URL, Retry: retry.Policy{MaxAttempts: 3}}, nil, nil)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background(), "1")
	te, ok := retry.AsTerminal(err)
	require.True(t, ok)
	assert.Equal(t, retry.KindUnrecoverable, te.Kind)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetrying_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "1", "title": "finally"})
	}))
	defer server.Close()

	src, err := New(Config{Name: "flaky", URL: server.URL, Retry: retry.Policy{MaxAttempts: 2}}, nil, nil)
	require.NoError(t, err)

	rec, err := src.Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "finally", rec.Title)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, src.Stats().Requests)
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(Config{Name: "x", Type: "ftp"}, nil, nil)
	assert.Error(t, err)
}

func TestRetrying_DailyQuota(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "1"})
	}))
	defer server.Close()

	quota := budget.NewTracker()
	src, err := New(Config{Name: "scopus", URL: server.URL, DailyQuota: 3, Retry: retry.Policy{MaxAttempts: 2}}, nil, quota)
	require.NoError(t, err)

	// Two attempts: the failed one counts against the quota too.
	_, err = src.Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.Quota().TotalCalls)

	_, err = src.Fetch(context.Background(), "1")
	require.NoError(t, err)

	_, err = src.Fetch(context.Background(), "1")
	var terr *retry.TerminalError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, retry.KindInit, terr.Kind)
	assert.ErrorIs(t, err, budget.ErrExhausted)
	assert.Equal(t, int32(3), calls.Load(), "no request once the quota is used up")
	assert.Equal(t, 0, src.Quota().RemainingCalls)
}

func TestRetrying_QuotaUntracked(t *testing.T) {
	src, err := New(Config{Name: "x", URL: "http://127.0.0.1:1"}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, src.Quota())
}
