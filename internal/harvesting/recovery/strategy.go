package recovery

import (
	"math"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

// FailureCategory tells whether a queued failure is worth retrying.
type FailureCategory int

const (
	CategoryTransient FailureCategory = iota
	CategoryPermanent
)

// Classifier categorizes a queued failure.
type Classifier func(f *domain.ImportFailure) FailureCategory

// DefaultClassifier treats failures the executor judged unrecoverable as
// permanent and everything else as transient.
func DefaultClassifier(f *domain.ImportFailure) FailureCategory {
	if f.FailureType == domain.FailureTypeUnrecoverable {
		return CategoryPermanent
	}
	return CategoryTransient
}

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if the failure should be retried again.
	ShouldRetry(f *domain.ImportFailure) bool
}

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Classifier   Classifier
}

// DefaultBackoff returns 2s, 4s, 8s, 16s, 32s (max 60s) over five retries.
func DefaultBackoff(classifier Classifier) *ExponentialBackoff {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return &ExponentialBackoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  5,
		Classifier:   classifier,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks the failure is transient and retries remain.
func (s *ExponentialBackoff) ShouldRetry(f *domain.ImportFailure) bool {
	if f.RetryCount >= s.MaxAttempts {
		return false
	}
	return s.Classifier(f) == CategoryTransient
}
