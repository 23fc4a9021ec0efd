package registry

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrCompletionBusy indicates a second concurrent Wait on the same signal,
// which is a caller protocol error.
var ErrCompletionBusy = errors.New("completion signal busy")

// Completion is a single-slot completion signal. One party waits for the
// outcome of an operation; the other completes it exactly once. Completing
// before anyone waits is fine; the outcome is held until collected.
type Completion struct {
	ch      chan error
	waiting atomic.Bool
}

// NewCompletion creates an unsignalled completion.
func NewCompletion() *Completion {
	return &Completion{ch: make(chan error, 1)}
}

// Complete records the outcome. Outcomes beyond the first are discarded.
func (c *Completion) Complete(err error) {
	select {
	case c.ch <- err:
	default:
	}
}

// Wait blocks until the operation completes or the context ends. Only one
// waiter at a time; a concurrent second call returns ErrCompletionBusy.
func (c *Completion) Wait(ctx context.Context) error {
	if !c.waiting.CompareAndSwap(false, true) {
		return ErrCompletionBusy
	}
	defer c.waiting.Store(false)
	select {
	case err := <-c.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
