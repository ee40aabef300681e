package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quotaError struct{ remaining int }

func (e *quotaError) Error() string { return fmt.Sprintf("quota: %d left", e.remaining) }

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifier_FirstMatchWins(t *testing.T) {
	var picked string
	mark := func(name string) Handler {
		return HandlerFunc(func(context.Context, error) error {
			picked = name
			return nil
		})
	}

	c := NewClassifier()
	On[*quotaError](c, mark("quota"))
	c.Register("any", func(error) bool { return true }, mark("any"))

	handlers := c.HandlersFor(fmt.Errorf("fetch: %w", &quotaError{remaining: 0}))
	require.Len(t, handlers, 1)
	require.NoError(t, handlers[0].Handle(context.Background(), nil))
	assert.Equal(t, "quota", picked)

	handlers = c.HandlersFor(errors.New("other"))
	require.Len(t, handlers, 1)
	require.NoError(t, handlers[0].Handle(context.Background(), nil))
	assert.Equal(t, "any", picked)
}

func TestClassifier_MatchesInterfaceTypes(t *testing.T) {
	c := NewClassifier()
	On[net.Error](c, Noop)

	assert.Len(t, c.HandlersFor(fmt.Errorf("dial: %w", timeoutError{})), 1)
	assert.Nil(t, c.HandlersFor(errors.New("plain")))

	name, ok := c.RuleFor(timeoutError{})
	assert.True(t, ok)
	assert.Equal(t, "net.Error", name)
}

func TestClassifier_OnTarget(t *testing.T) {
	errSession := errors.New("session expired")
	c := NewClassifier().OnTarget(errSession, Noop, Noop)

	assert.Len(t, c.HandlersFor(fmt.Errorf("call: %w", errSession)), 2)
	assert.Empty(t, c.HandlersFor(errors.New("session expired")))
}

func TestClassifier_OnTargetNil(t *testing.T) {
	var c *Classifier
	require.NotPanics(t, func() { c = NewClassifier().OnTarget(nil, Noop) })

	_, ok := c.RuleFor(errIO)
	assert.False(t, ok)
	assert.Empty(t, c.HandlersFor(errIO))
}

func TestClassifier_RuleWithoutHandlersIsFatal(t *testing.T) {
	errGone := errors.New("gone")
	c := NewClassifier()
	c.OnTarget(errGone)
	c.Register("any", func(error) bool { return true }, Noop)

	assert.Empty(t, c.HandlersFor(errGone))

	exec := NewExecutor(Policy{MaxAttempts: 3}, c)
	calls := 0
	err := exec.Do(context.Background(), func(context.Context) error {
		calls++
		return errGone
	})

	te, ok := AsTerminal(err)
	require.True(t, ok)
	assert.Equal(t, KindUnrecoverable, te.Kind)
	assert.Equal(t, 1, calls)
}

func TestClassifier_NilError(t *testing.T) {
	c := NewClassifier().Register("any", func(error) bool { return true }, Noop)
	assert.Nil(t, c.HandlersFor(nil))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "init", KindInit.String())
	assert.Equal(t, "unrecoverable", KindUnrecoverable.String())
	assert.Equal(t, "exhausted", KindExhausted.String())
	assert.Equal(t, "interrupted", KindInterrupted.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
