// Package asynchook moves hook delivery off the cache hot path.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	reg := pagequery.NewRegistry(pagequery.Options{Hooks: hooks})
//
// Events are dropped, not queued unboundedly, when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/pagequery"
)

type Hooks struct {
	inner   pagequery.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ pagequery.Hooks = (*Hooks)(nil)

func New(inner pagequery.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = pagequery.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) CacheHit(k string)               { h.try(func() { h.inner.CacheHit(k) }) }
func (h *Hooks) CacheMiss(k string)              { h.try(func() { h.inner.CacheMiss(k) }) }
func (h *Hooks) FetchStarted(k string, g uint64) { h.try(func() { h.inner.FetchStarted(k, g) }) }
func (h *Hooks) FetchFailed(k string, err error) { h.try(func() { h.inner.FetchFailed(k, err) }) }
func (h *Hooks) Evicted(k string, spilled bool)  { h.try(func() { h.inner.Evicted(k, spilled) }) }
func (h *Hooks) SpillRejected(k string)          { h.try(func() { h.inner.SpillRejected(k) }) }
func (h *Hooks) SelfHeal(k, r string)            { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) StaleDropped(k string, g, c uint64) {
	h.try(func() { h.inner.StaleDropped(k, g, c) })
}
func (h *Hooks) Invalidated(p string, matched, refetched int) {
	h.try(func() { h.inner.Invalidated(p, matched, refetched) })
}
