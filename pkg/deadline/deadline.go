// Package deadline provides a periodic deadline that snaps forward instead
// of accumulating a tick backlog: a waiter that arrives past the deadline
// fires once, and the next deadline becomes now plus the period.
package deadline

import (
	"context"
	"sync"
	"time"
)

// Deadline is a recurring point in time. Safe for one waiter at a time;
// the protocol loop is the only waiter in practice.
type Deadline struct {
	mu    sync.Mutex
	every time.Duration
	next  time.Time
}

// New creates a deadline firing every period. With immediate set, the
// first wait fires at once.
func New(every time.Duration, immediate bool) *Deadline {
	next := time.Now()
	if !immediate {
		next = next.Add(every)
	}
	return &Deadline{every: every, next: next}
}

// Wait blocks until the deadline passes, then advances it to now plus the
// period. An already-passed deadline returns immediately.
func (d *Deadline) Wait(ctx context.Context) error {
	d.mu.Lock()
	at := d.next
	d.mu.Unlock()

	timer := time.NewTimer(time.Until(at))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	d.mu.Lock()
	d.next = time.Now().Add(d.every)
	d.mu.Unlock()
	return nil
}

// Next reports the upcoming deadline.
func (d *Deadline) Next() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}
