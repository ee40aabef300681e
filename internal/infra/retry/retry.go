// Package retry runs calls against external metadata providers with request
// spacing, bounded retries and per-error recovery handlers.
//
// An Executor serialises every call made through it: a second caller blocks
// until the first one has finished all of its attempts. Between attempt
// starts the executor keeps at least Policy.MinInterval, so a single executor
// per provider acts as that provider's rate limit.
//
//	classifier := retry.NewClassifier()
//	retry.On[*source.RateLimitError](classifier, waitRetryAfter)
//	classifier.OnTarget(source.ErrUnauthorized, refreshSession)
//
//	exec := retry.NewExecutor(policy, classifier, retry.WithName("scopus"))
//	rec, err := retry.Execute(ctx, exec, func(ctx context.Context) (*domain.Record, error) {
//	    return client.Fetch(ctx, id)
//	})
package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Policy defines retry and spacing behavior for one executor.
type Policy struct {
	// MinInterval is the minimum spacing between two attempt starts.
	MinInterval time.Duration `yaml:"min_interval"`

	// MaxAttempts is the number of retries allowed after the first attempt.
	MaxAttempts int `yaml:"max_attempts"`

	// PostAttemptDelay is the fixed pause after a failed, recovered attempt.
	PostAttemptDelay time.Duration `yaml:"post_attempt_delay"`
}

// DefaultPolicy provides sensible defaults for public metadata APIs.
var DefaultPolicy = Policy{
	MinInterval:      1 * time.Second,
	MaxAttempts:      3,
	PostAttemptDelay: 2 * time.Second,
}

func (p Policy) normalize() Policy {
	if p.MinInterval < 0 {
		p.MinInterval = 0
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.PostAttemptDelay < 0 {
		p.PostAttemptDelay = 0
	}
	return p
}

// Executor wraps calls with throttling, retries and recovery.
type Executor struct {
	name       string
	policy     Policy
	classifier *Classifier
	init       func(ctx context.Context) error
	observer   Observer
	log        *slog.Logger

	// sem serialises whole Execute calls; limiter is only touched while sem is held.
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	lastMu sync.RWMutex
	last   Operation
}

// Option configures an Executor.
type Option func(*Executor)

// WithName sets the executor name used in logs and metrics.
func WithName(name string) Option {
	return func(e *Executor) {
		e.name = name
	}
}

// WithInit sets a hook that runs before every attempt. A failing hook ends
// the call immediately and is never retried.
func WithInit(fn func(ctx context.Context) error) Option {
	return func(e *Executor) {
		e.init = fn
	}
}

// WithObserver sets the observer notified about attempts and outcomes.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// NewExecutor creates an executor. A nil classifier treats every failure as
// unrecoverable.
func NewExecutor(policy Policy, classifier *Classifier, opts ...Option) *Executor {
	policy = policy.normalize()
	if classifier == nil {
		classifier = NewClassifier()
	}

	e := &Executor{
		name:       "default",
		policy:     policy,
		classifier: classifier,
		observer:   NopObserver{},
		log:        slog.Default(),
		sem:        semaphore.NewWeighted(1),
		limiter:    rate.NewLimiter(rate.Every(policy.MinInterval), 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("executor", e.name)
	return e
}

// Name returns the executor name.
func (e *Executor) Name() string {
	return e.name
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// LastOperation returns a snapshot of the most recent operation, including
// its last error and warning. The zero value is returned before any call.
func (e *Executor) LastOperation() Operation {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	return e.last
}

func (e *Executor) publish(op *Operation) {
	e.lastMu.Lock()
	e.last = *op
	e.lastMu.Unlock()
}
