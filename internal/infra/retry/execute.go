package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomeExhausted
	outcomeUnrecoverable
)

// Execute runs work through the executor and returns its result.
//
// Terminal failures are returned as *TerminalError carrying the operation id,
// the number of failed attempts and the original cause.
func Execute[T any](
	ctx context.Context,
	e *Executor,
	work func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	op := newOperation()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return zero, e.terminate(op, KindInterrupted, err)
	}
	defer e.sem.Release(1)

	ctx = withOperation(ctx, op)
	e.publish(op)

	for {
		if e.init != nil {
			if err := e.init(ctx); err != nil {
				return zero, e.terminate(op, KindInit, err)
			}
		}

		// The limiter slot is the spacing marker, so nothing may run
		// between throttle and work.
		if err := e.throttle(ctx); err != nil {
			return zero, e.terminate(op, KindInterrupted, err)
		}

		e.log.Debug("operation started", "op", op.ID, "attempt", op.Attempt)
		e.observer.OnAttempt(e.name, op.Attempt)

		result, err := work(ctx)

		switch e.step(ctx, op, err) {
		case outcomeSuccess:
			elapsed := time.Since(op.StartedAt)
			e.log.Debug("operation successful", "op", op.ID, "attempts", op.Attempt+1, "elapsed", elapsed)
			e.observer.OnSuccess(e.name, op.Attempt+1, elapsed)
			return result, nil
		case outcomeExhausted:
			return zero, e.terminate(op, KindExhausted, op.LastErr)
		case outcomeUnrecoverable:
			return zero, e.terminate(op, KindUnrecoverable, op.LastErr)
		}

		if err := e.pause(ctx); err != nil {
			return zero, e.terminate(op, KindInterrupted, err)
		}
	}
}

// Do runs a call that produces no value.
func (e *Executor) Do(ctx context.Context, work func(ctx context.Context) error) error {
	_, err := Execute(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, work(ctx)
	})
	return err
}

// step records the attempt result and decides what happens next.
func (e *Executor) step(ctx context.Context, op *Operation, err error) outcome {
	if err == nil {
		return outcomeSuccess
	}

	op.LastErr = err
	op.Attempt++
	op.Warning = fmt.Sprintf("attempt %d of %d failed: %v", op.Attempt, e.policy.MaxAttempts+1, err)
	e.publish(op)

	e.log.Warn("operation failed", "op", op.ID, "attempt", op.Attempt, "error", err)

	if op.Attempt > e.policy.MaxAttempts {
		return outcomeExhausted
	}

	handlers := e.classifier.HandlersFor(err)
	if len(handlers) == 0 {
		return outcomeUnrecoverable
	}

	e.recover(ctx, op, handlers)
	e.observer.OnRetry(e.name, op.Attempt, err)
	return outcomeRetry
}

// recover runs handlers in order. A failing handler stops the chain; its
// error counts against the current attempt only.
func (e *Executor) recover(ctx context.Context, op *Operation, handlers []Handler) {
	cause := op.LastErr
	for i, h := range handlers {
		if err := h.Handle(ctx, cause); err != nil {
			op.LastErr = errors.Join(cause, fmt.Errorf("recovery handler %d: %w", i, err))
			op.Warning = fmt.Sprintf("attempt %d recovery failed: %v", op.Attempt, err)
			e.publish(op)
			e.log.Warn("recovery handler failed", "op", op.ID, "attempt", op.Attempt, "error", err)
			return
		}
	}
}

// throttle blocks until MinInterval has passed since the previous attempt start.
func (e *Executor) throttle(ctx context.Context) error {
	r := e.limiter.Reserve()
	wait := r.Delay()
	if wait <= 0 {
		return nil
	}

	e.observer.OnThrottle(e.name, wait)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) pause(ctx context.Context) error {
	if e.policy.PostAttemptDelay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(e.policy.PostAttemptDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) terminate(op *Operation, kind Kind, cause error) error {
	if op.LastErr == nil || kind == KindInit {
		op.LastErr = cause
	}
	op.Warning = fmt.Sprintf("operation %s: %s after %d failed attempt(s)", op.ID, kind, op.Attempt)
	e.publish(op)

	e.log.Error("operation aborted",
		"op", op.ID,
		"kind", kind.String(),
		"attempts", op.Attempt,
		"error", cause,
	)
	e.observer.OnTerminal(e.name, kind, op.Attempt)

	return &TerminalError{
		OperationID: op.ID,
		Attempts:    op.Attempt,
		Kind:        kind,
		Err:         cause,
	}
}
