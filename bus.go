package pagequery

import (
	"context"
	"errors"
	"sync"
)

// Report summarizes one invalidation.
type Report struct {
	Prefix    string
	Matched   int // cached keys (memory and spill) that matched
	Refetched int // subscribers forced to refetch
}

type subscriber struct {
	key     func() string
	refetch func()
}

// InvalidationBus fans invalidations out to every cache of a Registry and to
// the coordinators currently showing a matching key.
type InvalidationBus struct {
	reg *Registry

	mu   sync.Mutex
	next uint64
	subs map[uint64]subscriber
	taps []func(Report)
}

func newInvalidationBus(r *Registry) *InvalidationBus {
	return &InvalidationBus{reg: r, subs: make(map[uint64]subscriber)}
}

// Subscribe registers an active consumer. key reports the query key the
// consumer shows right now; refetch is called when an invalidation matches it.
// Both are called without bus locks held. The returned func unsubscribes.
func (b *InvalidationBus) Subscribe(key func() string, refetch func()) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{key: key, refetch: refetch}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Tap registers fn to observe every completed invalidation (bridges use it
// to relay local invalidations to other processes).
func (b *InvalidationBus) Tap(fn func(Report)) {
	b.mu.Lock()
	b.taps = append(b.taps, fn)
	b.mu.Unlock()
}

// Invalidate bumps the generation of every key matching keyOrPrefix in every
// cache, so fetches already in flight for them are dropped on arrival.
// Matching keys that a subscriber shows stay visible but are marked stale;
// the others are evicted. Every subscriber whose key overlaps the prefix
// then refetches, ignoring TTL. Data is replaced only when that refetch
// resolves.
func (b *InvalidationBus) Invalidate(ctx context.Context, keyOrPrefix string) (Report, error) {
	r := b.invalidate(ctx, keyOrPrefix)
	rep, err := r.rep, r.err
	b.mu.Lock()
	taps := append([]func(Report){}, b.taps...)
	b.mu.Unlock()
	for _, fn := range taps {
		fn(rep)
	}
	return rep, err
}

// Apply is Invalidate without notifying taps; bridges use it for remote
// invalidations so they are not echoed back.
func (b *InvalidationBus) Apply(ctx context.Context, keyOrPrefix string) (Report, error) {
	r := b.invalidate(ctx, keyOrPrefix)
	return r.rep, r.err
}

type outcome struct {
	rep Report
	err error
}

func (b *InvalidationBus) invalidate(ctx context.Context, prefix string) outcome {
	out := outcome{rep: Report{Prefix: prefix}}
	if b.reg.Disposed() {
		out.err = ErrDisposed
		return out
	}

	subs := b.snapshot()
	keys := make([]string, len(subs))
	for i, s := range subs {
		keys[i] = s.key()
	}
	active := activeIn(keys)

	var errs []error
	for _, h := range b.reg.handles() {
		n, err := h.invalidate(ctx, prefix, active)
		out.rep.Matched += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	for i, s := range subs {
		k := keys[i]
		if k == "" || !(MatchKey(k, prefix) || MatchKey(prefix, k)) {
			continue
		}
		s.refetch()
		out.rep.Refetched++
	}

	b.reg.hooks.Invalidated(prefix, out.rep.Matched, out.rep.Refetched)
	b.reg.log.Debug("invalidated", Fields{
		"prefix":    prefix,
		"matched":   out.rep.Matched,
		"refetched": out.rep.Refetched,
	})
	out.err = errors.Join(errs...)
	return out
}

func (b *InvalidationBus) snapshot() []subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	return out
}

// activeFunc resolves subscriber keys now, for cache-level invalidations.
func (b *InvalidationBus) activeFunc() func(string) bool {
	subs := b.snapshot()
	keys := make([]string, len(subs))
	for i, s := range subs {
		keys[i] = s.key()
	}
	return activeIn(keys)
}

// activeIn reports whether a cached key is shown by one of the subscriber
// keys: the key itself, or a page under it.
func activeIn(keys []string) func(string) bool {
	return func(k string) bool {
		for _, sk := range keys {
			if sk != "" && MatchKey(k, sk) {
				return true
			}
		}
		return false
	}
}
