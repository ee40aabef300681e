package retry

import (
	"errors"
	"fmt"
)

// Kind classifies why an Execute call ended without success.
type Kind int

const (
	// KindInit means the init hook failed. Never retried.
	KindInit Kind = iota
	// KindUnrecoverable means no handler is registered for the failure.
	KindUnrecoverable
	// KindExhausted means the attempt budget ran out.
	KindExhausted
	// KindInterrupted means the context ended while waiting.
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindUnrecoverable:
		return "unrecoverable"
	case KindExhausted:
		return "exhausted"
	case KindInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TerminalError is returned when an Execute call gives up.
type TerminalError struct {
	OperationID string
	Attempts    int
	Kind        Kind
	Err         error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("operation %s %s after %d failed attempt(s): %v",
		e.OperationID, e.Kind, e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// AsTerminal extracts a *TerminalError from err's chain.
func AsTerminal(err error) (*TerminalError, bool) {
	var te *TerminalError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
