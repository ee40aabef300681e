package retry

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// Handler attempts recovery after a failed attempt, before the next one.
// Returning an error marks the recovery as failed for the current attempt.
type Handler interface {
	Handle(ctx context.Context, cause error) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cause error) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, cause error) error {
	return f(ctx, cause)
}

// Noop is a handler that only allows the retry.
var Noop Handler = HandlerFunc(func(context.Context, error) error { return nil })

type rule struct {
	name     string
	match    func(error) bool
	handlers []Handler
}

// Classifier maps failures to recovery handlers. Rules are evaluated in
// registration order and the first match wins. A rule registered without
// handlers marks matching failures as unrecoverable.
type Classifier struct {
	mu    sync.RWMutex
	rules []rule
}

// NewClassifier creates an empty classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Register adds a rule matching failures for which match returns true.
func (c *Classifier) Register(name string, match func(error) bool, handlers ...Handler) *Classifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule{name: name, match: match, handlers: handlers})
	return c
}

// OnTarget adds a rule matching failures that wrap target (errors.Is).
// A nil target could never match a failure and adds no rule.
func (c *Classifier) OnTarget(target error, handlers ...Handler) *Classifier {
	if target == nil {
		return c
	}
	return c.Register(target.Error(), func(err error) bool {
		return errors.Is(err, target)
	}, handlers...)
}

// On adds a rule matching failures with an E anywhere in their chain
// (errors.As). E may be a concrete error type or an interface such as net.Error.
func On[E error](c *Classifier, handlers ...Handler) *Classifier {
	return c.Register(reflect.TypeFor[E]().String(), func(err error) bool {
		var target E
		return errors.As(err, &target)
	}, handlers...)
}

// HandlersFor returns the handlers of the first rule matching err, or nil.
func (c *Classifier) HandlersFor(err error) []Handler {
	_, handlers := c.lookup(err)
	return handlers
}

// RuleFor returns the name of the first rule matching err.
func (c *Classifier) RuleFor(err error) (string, bool) {
	name, _ := c.lookup(err)
	return name, name != ""
}

func (c *Classifier) lookup(err error) (string, []Handler) {
	if err == nil {
		return "", nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.rules {
		if r.match(err) {
			return r.name, r.handlers
		}
	}
	return "", nil
}
