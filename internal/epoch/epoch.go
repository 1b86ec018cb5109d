// Package epoch holds the invalidation generation used to expire every
// local entry at once.
//
// Entries capture a Trigger at write time. Bumping the generation makes all
// previously captured triggers report Expired without touching the entries.
package epoch

import (
	"sync"
	"sync/atomic"
)

// Controller owns the current generation. The zero value is not usable;
// construct with New.
type Controller struct {
	mu     sync.RWMutex
	gen    atomic.Uint64
	done   chan struct{}
	closed atomic.Bool
}

func New() *Controller {
	return &Controller{done: make(chan struct{})}
}

// Trigger is bound to the generation that was current when it was attached.
type Trigger struct {
	c    *Controller
	gen  uint64
	done <-chan struct{}
}

// Attach returns a trigger for the current generation. Many goroutines may
// attach concurrently; ClearAll excludes them only for the swap.
func (c *Controller) Attach() Trigger {
	c.mu.RLock()
	t := Trigger{c: c, gen: c.gen.Load(), done: c.done}
	c.mu.RUnlock()
	return t
}

// Current returns the current generation.
func (c *Controller) Current() uint64 { return c.gen.Load() }

// ClearAll signals the current generation and installs the next one.
// It returns the new generation. fn, if non-nil, runs inside the swap.
func (c *Controller) ClearAll(fn func(next uint64)) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return c.gen.Load()
	}
	close(c.done)
	next := c.gen.Add(1)
	c.done = make(chan struct{})
	if fn != nil {
		fn(next)
	}
	return next
}

// Close signals the current generation and releases waiters. Triggers
// attached afterwards are already expired. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return
	}
	c.closed.Store(true)
	close(c.done)
}

// Expired reports whether the generation this trigger was bound to is no
// longer current. Lock-free.
func (t Trigger) Expired() bool {
	if t.c == nil {
		return false
	}
	return t.c.closed.Load() || t.c.gen.Load() != t.gen
}

// Gen is the generation the trigger captured.
func (t Trigger) Gen() uint64 { return t.gen }

// Done is closed once the captured generation is signaled.
func (t Trigger) Done() <-chan struct{} { return t.done }
