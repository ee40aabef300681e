package metrics

import (
	"time"

	"github.com/vietddude/harvester/internal/infra/retry"
)

// RetryObserver exports executor events to Prometheus.
type RetryObserver struct{}

func (RetryObserver) OnAttempt(source string, _ int) {
	AttemptsTotal.WithLabelValues(source).Inc()
}

func (RetryObserver) OnThrottle(source string, wait time.Duration) {
	ThrottleWaitSeconds.WithLabelValues(source).Observe(wait.Seconds())
}

func (RetryObserver) OnRetry(source string, _ int, _ error) {
	RetriesTotal.WithLabelValues(source).Inc()
}

func (RetryObserver) OnSuccess(source string, _ int, elapsed time.Duration) {
	CallDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (RetryObserver) OnTerminal(source string, kind retry.Kind, _ int) {
	TerminalFailuresTotal.WithLabelValues(source, kind.String()).Inc()
}
