package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

// recordPayload is the JSON shape of a record returned by REST providers.
type recordPayload struct {
	ID        string              `json:"id"`
	DOI       string              `json:"doi"`
	Title     string              `json:"title"`
	Authors   []string            `json:"authors"`
	Published string              `json:"published"`
	Metadata  map[string][]string `json:"metadata"`
}

func (p recordPayload) toRecord(source string) *domain.Record {
	return &domain.Record{
		Source:     source,
		ExternalID: p.ID,
		DOI:        p.DOI,
		Title:      p.Title,
		Authors:    p.Authors,
		Published:  p.Published,
		Metadata:   p.Metadata,
		FetchedAt:  time.Now(),
	}
}

// HTTPSource implements Source for REST/JSON providers.
//
//	GET {url}/records/{id}
//	GET {url}/records?query=...&start=...&count=...
type HTTPSource struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	tokens     *TokenSource

	Monitor *Monitor
}

// NewHTTPSource creates a new REST provider client.
func NewHTTPSource(cfg Config) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPSource{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: client,
		tokens:     NewTokenSource(cfg.TokenURL, cfg.APIKey, client),
		Monitor:    NewMonitor(),
	}
}

// Name returns the provider's name.
func (s *HTTPSource) Name() string {
	return s.name
}

// Tokens returns the session token source.
func (s *HTTPSource) Tokens() *TokenSource {
	return s.tokens
}

// Fetch retrieves one record by identifier.
func (s *HTTPSource) Fetch(ctx context.Context, id string) (*domain.Record, error) {
	var payload recordPayload
	if err := s.get(ctx, "/records/"+url.PathEscape(id), nil, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		payload.ID = id
	}
	return payload.toRecord(s.name), nil
}

// Search returns records matching query.
func (s *HTTPSource) Search(
	ctx context.Context,
	query string,
	start, count int,
) ([]*domain.Record, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.Itoa(start))
	params.Set("count", strconv.Itoa(count))

	var page struct {
		Total   int             `json:"total"`
		Records []recordPayload `json:"records"`
	}
	if err := s.get(ctx, "/records", params, &page); err != nil {
		return nil, err
	}

	records := make([]*domain.Record, 0, len(page.Records))
	for _, p := range page.Records {
		records = append(records, p.toRecord(s.name))
	}
	return records, nil
}

// Close cleans up resources.
func (s *HTTPSource) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *HTTPSource) get(ctx context.Context, path string, params url.Values, out any) error {
	start := time.Now()

	endpoint := s.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
	if token := s.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.Monitor.RecordFailure()
		return fmt.Errorf("%s request: %w", s.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.Monitor.RecordFailure()
		return fmt.Errorf("read response: %w", err)
	}

	if err := s.checkStatus(resp, body); err != nil {
		s.Monitor.RecordFailure()
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		s.Monitor.RecordFailure()
		return fmt.Errorf("parse response: %w", err)
	}

	s.Monitor.RecordSuccess(time.Since(start))
	return nil
}

func (s *HTTPSource) checkStatus(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		s.Monitor.RecordThrottle(retryAfter)
		return &RateLimitError{RetryAfter: retryAfter}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		s.Monitor.RecordAuthFailure()
		return fmt.Errorf("%s: http %d: %w", s.name, resp.StatusCode, ErrUnauthorized)

	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", s.name, ErrNotFound)
	}

	msg := truncate(string(body), 512)
	if resp.StatusCode >= 500 && s.Monitor.DetectThrottlePattern(msg) {
		s.Monitor.RecordThrottle(0)
		return &RateLimitError{}
	}
	return &StatusError{Code: resp.StatusCode, Body: msg}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
