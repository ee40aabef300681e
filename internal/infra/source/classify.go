package source

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/vietddude/harvester/internal/infra/retry"
)

// MaxRetryAfterWait caps how long a rate-limit handler honours Retry-After.
var MaxRetryAfterWait = 2 * time.Minute

// NewClassifier builds the default recovery rules for provider errors:
//
//	ErrNotFound                   -> unrecoverable
//	ErrUnauthorized               -> refresh session (unrecoverable without a token endpoint)
//	*RateLimitError               -> wait for Retry-After
//	*StatusError 5xx              -> retry
//	*StatusError other            -> unrecoverable
//	net.Error (timeouts, resets)  -> retry
//
// Everything else, such as malformed responses, is unrecoverable.
func NewClassifier(tokens *TokenSource) *retry.Classifier {
	c := retry.NewClassifier()

	c.OnTarget(ErrNotFound)

	if tokens.Refreshable() {
		c.OnTarget(ErrUnauthorized, RefreshSession(tokens))
	} else {
		c.OnTarget(ErrUnauthorized)
	}

	retry.On[*RateLimitError](c, WaitRetryAfter())

	c.Register("server error", func(err error) bool {
		var se *StatusError
		return errors.As(err, &se) && se.Temporary()
	}, retry.Noop)
	retry.On[*StatusError](c)

	retry.On[net.Error](c, retry.Noop)

	return c
}

// RefreshSession returns a handler obtaining a new session token before the
// next attempt.
func RefreshSession(tokens *TokenSource) retry.Handler {
	return retry.HandlerFunc(func(ctx context.Context, cause error) error {
		slog.Info("Refreshing provider session", "cause", cause)
		return tokens.Refresh(ctx)
	})
}

// WaitRetryAfter returns a handler sleeping for the provider's Retry-After
// hint, capped at MaxRetryAfterWait.
func WaitRetryAfter() retry.Handler {
	return retry.HandlerFunc(func(ctx context.Context, cause error) error {
		var rl *RateLimitError
		if !errors.As(cause, &rl) || rl.RetryAfter <= 0 {
			return nil
		}

		wait := min(rl.RetryAfter, MaxRetryAfterWait)
		slog.Debug("Waiting for provider rate limit", "wait", wait)

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	})
}
