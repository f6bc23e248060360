// Package debounce delays propagation of a fast-changing value until it has
// been quiet for a fixed interval.
package debounce

import (
	"sync"
	"time"
)

// Gate emits only the last value of every burst. Each Propagate restarts the
// timer and discards the previously pending value.
type Gate[T any] struct {
	delay time.Duration
	emit  func(T)

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64 // identifies the pending value; a fired timer with an older seq is ignored
	pending bool
	value   T
	closed  bool
}

// New returns a gate that calls emit with the settled value. emit runs on the
// timer goroutine and must not call back into the gate synchronously.
// A non-positive delay emits synchronously from Propagate.
func New[T any](delay time.Duration, emit func(T)) *Gate[T] {
	return &Gate[T]{delay: delay, emit: emit}
}

// Propagate records v and restarts the quiet window.
func (g *Gate[T]) Propagate(v T) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	if g.delay <= 0 {
		g.mu.Unlock()
		g.emit(v)
		return
	}
	g.seq++
	seq := g.seq
	g.value = v
	g.pending = true
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(g.delay, func() { g.fire(seq) })
	g.mu.Unlock()
}

func (g *Gate[T]) fire(seq uint64) {
	g.mu.Lock()
	if g.closed || !g.pending || seq != g.seq {
		g.mu.Unlock()
		return
	}
	v := g.value
	g.pending = false
	g.timer = nil
	g.mu.Unlock()
	g.emit(v)
}

// Flush emits the pending value now, if any, and reports whether it did.
func (g *Gate[T]) Flush() bool {
	g.mu.Lock()
	if g.closed || !g.pending {
		g.mu.Unlock()
		return false
	}
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.seq++
	v := g.value
	g.pending = false
	g.mu.Unlock()
	g.emit(v)
	return true
}

// Pending reports whether a value is waiting for its quiet window.
func (g *Gate[T]) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Close cancels any pending emission. Later Propagate calls are ignored.
func (g *Gate[T]) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.pending = false
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
