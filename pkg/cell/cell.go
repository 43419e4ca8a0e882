// Package cell holds "latest value wins" shared state.
//
// A Cell keeps exactly one value and no history. Writers overwrite, readers get
// a point-in-time copy of whatever was stored last. The lock is only held for
// the assignment itself, never across encoding, network or process work.
package cell

import (
	"sync"
	"time"
)

// Cell is a mutex-guarded single-slot holder for the most recent value of T.
// The zero value is an empty cell ready to use.
type Cell[T any] struct {
	mu    sync.RWMutex
	value T
	set   bool
}

// New returns an empty cell.
func New[T any]() *Cell[T] {
	return &Cell[T]{}
}

// Get returns the current value and whether one is present.
func (c *Cell[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}

// Load returns the current value, or the zero value of T when empty.
func (c *Cell[T]) Load() T {
	v, _ := c.Get()
	return v
}

// Set replaces the current value.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	c.set = true
	c.mu.Unlock()
}

// Swap replaces the current value and returns the previous one.
func (c *Cell[T]) Swap(v T) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, had := c.value, c.set
	c.value = v
	c.set = true
	return old, had
}

// Clear empties the cell.
func (c *Cell[T]) Clear() {
	var zero T
	c.mu.Lock()
	c.value = zero
	c.set = false
	c.mu.Unlock()
}

// Latch is a one-shot event. Once fired it stays fired.
type Latch struct {
	once sync.Once
	ch   chan struct{}
	init sync.Once
}

func (l *Latch) done() chan struct{} {
	l.init.Do(func() { l.ch = make(chan struct{}) })
	return l.ch
}

// Fire marks the latch as fired. Only the first call has an effect and it
// reports whether this call was the one that fired it.
func (l *Latch) Fire() bool {
	fired := false
	l.once.Do(func() {
		close(l.done())
		fired = true
	})
	return fired
}

// Fired reports whether Fire has been called.
func (l *Latch) Fired() bool {
	select {
	case <-l.done():
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the latch fires.
func (l *Latch) Done() <-chan struct{} {
	return l.done()
}

// Wait blocks until the latch fires or the timeout elapses.
func (l *Latch) Wait(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.done():
		return true
	case <-t.C:
		return false
	}
}
