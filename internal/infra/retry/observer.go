package retry

import "time"

// Observer receives executor events. Implementations must be safe for
// concurrent use by several executors.
type Observer interface {
	OnAttempt(executor string, attempt int)
	OnThrottle(executor string, wait time.Duration)
	OnRetry(executor string, attempt int, err error)
	OnSuccess(executor string, attempts int, elapsed time.Duration)
	OnTerminal(executor string, kind Kind, attempts int)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) OnAttempt(string, int) {}
func (NopObserver) OnThrottle(string, time.Duration) {}
func (NopObserver) OnRetry(string, int, error) {}
func (NopObserver) OnSuccess(string, int, time.Duration) {}
func (NopObserver) OnTerminal(string, Kind, int) {}
