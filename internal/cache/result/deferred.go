package result

import (
	"context"
	"sync"
)

// Deferred is a value that settles exactly once, either with a result or an
// error. Every holder observes the same settlement.
type Deferred struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	val     any
	err     error
	hooks   []func(*Deferred)
}

func NewDeferred() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// Resolved returns an already settled deferred.
func Resolved(v any, err error) *Deferred {
	d := NewDeferred()
	d.Settle(v, err)
	return d
}

// Settle stores the outcome and wakes all waiters. Later calls are ignored and
// report false.
func (d *Deferred) Settle(v any, err error) bool {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return false
	}
	d.settled = true
	d.val, d.err = v, err
	hooks := d.hooks
	d.hooks = nil
	close(d.done)
	d.mu.Unlock()

	for _, h := range hooks {
		h(d)
	}
	return true
}

func (d *Deferred) Done() <-chan struct{} { return d.done }

func (d *Deferred) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

// Value is nil until settled.
func (d *Deferred) Value() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.val
}

func (d *Deferred) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Wait blocks until the deferred settles or ctx is done. Giving up on ctx does
// not affect the deferred or its other waiters.
func (d *Deferred) Wait(ctx context.Context) (any, error) {
	select {
	case <-d.done:
		return d.Value(), d.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// onSettle runs fn after settlement, immediately if already settled.
func (d *Deferred) onSettle(fn func(*Deferred)) {
	d.mu.Lock()
	if !d.settled {
		d.hooks = append(d.hooks, fn)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	fn(d)
}
