package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// TokenSource holds the session token sent with provider requests.
// Refresh is called by the retry handler registered for ErrUnauthorized so
// the next attempt runs with a new session.
type TokenSource struct {
	tokenURL   string
	apiKey     string
	httpClient *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	refreshes int
}

// NewTokenSource creates a token source. Without tokenURL the source is
// static and cannot be refreshed.
func NewTokenSource(tokenURL, apiKey string, httpClient *http.Client) *TokenSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenSource{
		tokenURL:   tokenURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Refreshable reports whether the source can obtain new sessions.
func (t *TokenSource) Refreshable() bool {
	return t != nil && t.tokenURL != ""
}

// Token returns the current session token, empty if none was obtained.
func (t *TokenSource) Token() string {
	if t == nil {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// Valid reports whether a non-expired token is held.
func (t *TokenSource) Valid() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token != "" && (t.expiresAt.IsZero() || time.Now().Before(t.expiresAt))
}

// Refreshes returns how many sessions were obtained.
func (t *TokenSource) Refreshes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refreshes
}

// Ensure obtains a token when none is held or the held one expired.
func (t *TokenSource) Ensure(ctx context.Context) error {
	if !t.Refreshable() || t.Valid() {
		return nil
	}
	return t.Refresh(ctx)
}

// Refresh obtains a new session token.
func (t *TokenSource) Refresh(ctx context.Context) error {
	if !t.Refreshable() {
		return fmt.Errorf("token source has no token endpoint")
	}

	body, err := json.Marshal(map[string]string{"api_key": t.apiKey})
	if err != nil {
		return fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(msg)}
	}

	var tokenResp struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("parse token response: %w", err)
	}
	if tokenResp.Token == "" {
		return fmt.Errorf("token response without token")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = tokenResp.Token
	t.refreshes++
	t.expiresAt = time.Time{}
	if tokenResp.ExpiresIn > 0 {
		t.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return nil
}
