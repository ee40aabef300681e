package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vietddude/harvester/internal/infra/retry"
)

func TestRetryObserver(t *testing.T) {
	errFlaky := errors.New("flaky")
	classifier := retry.NewClassifier().OnTarget(errFlaky, retry.Noop)
	exec := retry.NewExecutor(
		retry.Policy{MaxAttempts: 1},
		classifier,
		retry.WithName("observer-test"),
		retry.WithObserver(RetryObserver{}),
	)

	_ = exec.Do(context.Background(), func(ctx context.Context) error { return errFlaky })

	if got := testutil.ToFloat64(AttemptsTotal.WithLabelValues("observer-test")); got != 2 {
		t.Errorf("expected 2 attempts, got %v", got)
	}
	if got := testutil.ToFloat64(RetriesTotal.WithLabelValues("observer-test")); got != 1 {
		t.Errorf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(TerminalFailuresTotal.WithLabelValues("observer-test", "exhausted")); got != 1 {
		t.Errorf("expected 1 exhausted failure, got %v", got)
	}
}
