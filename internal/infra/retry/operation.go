package retry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Operation is the per-call identity of one Execute invocation.
type Operation struct {
	// ID correlates every log line and failure record of one call.
	ID string

	// Attempt counts failed attempts so far.
	Attempt int

	// LastErr is the most recent attempt or recovery failure.
	LastErr error

	// Warning is a human readable diagnostic for the last failure.
	Warning string

	StartedAt time.Time
}

func newOperation() *Operation {
	return &Operation{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}
}

type operationKey struct{}

func withOperation(ctx context.Context, op *Operation) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

// OperationFromContext returns a snapshot of the operation running the
// current work closure.
func OperationFromContext(ctx context.Context) (Operation, bool) {
	op, ok := ctx.Value(operationKey{}).(*Operation)
	if !ok || op == nil {
		return Operation{}, false
	}
	return *op, true
}
