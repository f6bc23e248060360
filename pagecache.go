package pagequery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/pagequery/codec"
	gen "github.com/unkn0wn-root/pagequery/genstore"
	"github.com/unkn0wn-root/pagequery/internal/wire"
	pr "github.com/unkn0wn-root/pagequery/provider"
)

const (
	DefaultCapacity = 256
	DefaultTTL      = 5 * time.Minute
	DefaultSpillTTL = 10 * time.Minute
)

// CacheOptions tune a PageCache. Everything is optional; Codec is required
// only when Spill is set.
type CacheOptions[T any] struct {
	Capacity int           // max entries kept in memory; 0 => 256
	TTL      time.Duration // entries older than this are cold; 0 => 5m

	// Spill receives successful entries evicted from the LRU. A spilled entry
	// is revived on a later miss while its generation is still current.
	Spill    pr.Provider
	Codec    c.Codec[T]
	SpillTTL time.Duration // 0 => 10m
}

// record is what the LRU holds. stale marks an invalidated entry that is
// kept visible until its forced refetch resolves.
type record[T any] struct {
	entry *Entry[T]
	stale bool
}

// PageCache stores one entry per query key with stale-while-revalidate,
// LRU retention and TTL-based coldness. Fetches are coordinated per key
// through generations; see Fetch.
type PageCache[T any] struct {
	reg      *Registry
	gens     *gen.LocalGenStore
	capacity int
	ttl      time.Duration
	spill    pr.Provider
	codec    c.Codec[T]
	spillTTL time.Duration
	now      func() time.Time

	sf singleflight.Group

	mu       sync.Mutex
	lru      *lru.Cache[string, *record[T]]
	inflight map[string]*flight
	spilled  map[string]struct{}
	evicted  []evicted[T]
	removing bool
	closed   bool
}

type evicted[T any] struct {
	key string
	rec *record[T]
}

func NewPageCache[T any](reg *Registry, opts CacheOptions[T]) (*PageCache[T], error) {
	if reg == nil {
		return nil, errors.New("pagequery: registry is required")
	}
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("pagequery: capacity must be >= 0, got %d", opts.Capacity)
	}
	if opts.Spill != nil && opts.Codec == nil {
		return nil, errors.New("pagequery: codec is required when spill is set")
	}

	pc := &PageCache[T]{
		reg:      reg,
		gens:     gen.NewLocalGenStore(reg.genCleanup, reg.genRetention),
		capacity: coalesce(opts.Capacity, DefaultCapacity),
		ttl:      coalesce(opts.TTL, DefaultTTL),
		spill:    opts.Spill,
		codec:    opts.Codec,
		spillTTL: coalesce(opts.SpillTTL, DefaultSpillTTL),
		now:      time.Now,
		inflight: make(map[string]*flight),
		spilled:  make(map[string]struct{}),
	}
	l, err := lru.NewWithEvict[string, *record[T]](pc.capacity, pc.onEvict)
	if err != nil {
		_ = pc.gens.Close(context.Background())
		return nil, err
	}
	pc.lru = l

	if err := reg.register(pc); err != nil {
		_ = pc.gens.Close(context.Background())
		return nil, err
	}
	return pc, nil
}

// Peek returns the entry for key (any status) and refreshes its LRU position.
// A miss consults the spill tier.
func (pc *PageCache[T]) Peek(key string) (*Entry[T], bool) {
	pc.mu.Lock()
	rec, ok := pc.lookup(key)
	pc.unlock()
	if !ok {
		pc.reg.hooks.CacheMiss(key)
		return nil, false
	}
	pc.reg.hooks.CacheHit(key)
	return rec.entry, true
}

// Fresh reports whether key holds a successful entry that was neither
// invalidated nor outlived the TTL.
func (pc *PageCache[T]) Fresh(key string) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	rec, ok := pc.lru.Peek(key)
	return ok && pc.fresh(rec)
}

// freshEntry returns key's entry if Fresh would hold, reviving spilled pages.
func (pc *PageCache[T]) freshEntry(key string) (*Entry[T], bool) {
	pc.mu.Lock()
	rec, ok := pc.lookup(key)
	ok = ok && pc.fresh(rec)
	pc.unlock()
	if !ok {
		return nil, false
	}
	return rec.entry, true
}

// InFlight reports whether a fetch for key's current generation is running.
func (pc *PageCache[T]) InFlight(key string) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.current(key) != nil
}

// Len is the number of entries held in memory.
func (pc *PageCache[T]) Len() int { return pc.lru.Len() }

// Put publishes e as the entry for key under a new generation. Any fetch in
// flight for key is superseded and its response will be dropped.
func (pc *PageCache[T]) Put(key string, e Entry[T]) error {
	g, err := pc.gens.Bump(pc.reg.ctx, key)
	if err != nil {
		return err
	}
	e.Key = key
	e.Gen = g
	if e.Status == 0 {
		e.Status = StatusSuccess
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = pc.now()
	}

	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return ErrDisposed
	}
	pc.lru.Add(key, &record[T]{entry: &e})
	pc.unlock()
	return nil
}

// Invalidate bumps the generation of every key matching prefix. Keys that an
// InvalidationBus subscriber currently shows are kept and marked stale; the
// rest are evicted. Unlike Registry.Invalidate it forces no refetch.
func (pc *PageCache[T]) Invalidate(ctx context.Context, prefix string) (int, error) {
	return pc.invalidate(ctx, prefix, pc.reg.bus.activeFunc())
}

func (pc *PageCache[T]) invalidate(ctx context.Context, prefix string, active func(string) bool) (int, error) {
	match := func(k string) bool { return MatchKey(k, prefix) }

	pc.mu.Lock()
	// Bump under the cache lock so no commit can slip in between.
	if _, err := pc.gens.BumpMatching(ctx, match); err != nil {
		pc.mu.Unlock()
		return 0, err
	}

	matched := 0
	for _, k := range pc.lru.Keys() {
		if !match(k) {
			continue
		}
		matched++
		if active != nil && active(k) {
			if rec, ok := pc.lru.Peek(k); ok {
				rec.stale = true
			}
			continue
		}
		pc.remove(k)
	}

	var spilled []string
	for k := range pc.spilled {
		if match(k) {
			spilled = append(spilled, k)
			delete(pc.spilled, k)
		}
	}
	pc.mu.Unlock()

	var delErrs []error
	if pc.spill != nil {
		for _, k := range spilled {
			if err := pc.spill.Del(ctx, k); err != nil {
				delErrs = append(delErrs, err)
			}
		}
	}
	matched += len(spilled)

	if len(delErrs) > 0 {
		return matched, &InvalidateError{Prefix: prefix, DelErr: delErrs}
	}
	return matched, nil
}

func (pc *PageCache[T]) close(ctx context.Context) error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil
	}
	pc.closed = true
	pc.removing = true
	pc.lru.Purge()
	pc.removing = false
	pc.mu.Unlock()

	var errs []error
	if err := pc.gens.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if pc.spill != nil {
		if err := pc.spill.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// snapshot reads key without touching recency, hooks or the spill tier.
func (pc *PageCache[T]) snapshot(key string) (*Entry[T], bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	rec, ok := pc.lru.Peek(key)
	if !ok {
		return nil, false
	}
	return rec.entry, true
}

// lookup finds key in memory or revives it from the spill tier. pc.mu held.
func (pc *PageCache[T]) lookup(key string) (*record[T], bool) {
	if rec, ok := pc.lru.Get(key); ok {
		return rec, true
	}
	if pc.spill == nil || pc.closed {
		return nil, false
	}
	if _, ok := pc.spilled[key]; !ok {
		return nil, false
	}
	e, ok := pc.revive(key)
	if !ok {
		return nil, false
	}
	rec := &record[T]{entry: e}
	pc.lru.Add(key, rec)
	return rec, true
}

func (pc *PageCache[T]) revive(key string) (*Entry[T], bool) {
	ctx := pc.reg.ctx
	delete(pc.spilled, key)

	raw, ok, err := pc.spill.Get(ctx, key)
	if err != nil {
		pc.reg.log.Warn("spill get failed", Fields{"key": key, "err": err})
		return nil, false
	}
	if !ok {
		return nil, false
	}

	p, err := wire.DecodePage(raw)
	if err != nil {
		pc.selfHeal(ctx, key, "corrupt")
		return nil, false
	}
	cur, err := pc.gens.Snapshot(ctx, key)
	if err != nil || p.Gen != cur {
		pc.selfHeal(ctx, key, "gen_mismatch")
		return nil, false
	}

	items := make([]T, 0, len(p.Items))
	for _, b := range p.Items {
		v, err := pc.codec.Decode(b)
		if err != nil {
			pc.selfHeal(ctx, key, "value_decode")
			return nil, false
		}
		items = append(items, v)
	}
	_ = pc.spill.Del(ctx, key)

	return &Entry[T]{
		Key:    key,
		Status: StatusSuccess,
		Data:   items,
		Pagination: Pagination{
			Page:       p.Page,
			PageSize:   p.PageSize,
			Total:      p.Total,
			TotalPages: p.TotalPages,
		},
		UpdatedAt: time.Unix(0, p.UpdatedAt),
		Gen:       p.Gen,
	}, true
}

func (pc *PageCache[T]) selfHeal(ctx context.Context, key, reason string) {
	_ = pc.spill.Del(ctx, key)
	pc.reg.hooks.SelfHeal(key, reason)
	pc.reg.log.Warn("spill self-heal", Fields{"key": key, "reason": reason})
}

func (pc *PageCache[T]) fresh(rec *record[T]) bool {
	e := rec.entry
	return !rec.stale && e.Status == StatusSuccess && pc.now().Sub(e.UpdatedAt) < pc.ttl
}

func (pc *PageCache[T]) remove(key string) {
	pc.removing = true
	pc.lru.Remove(key)
	pc.removing = false
}

// onEvict runs synchronously inside lru calls made with pc.mu held.
func (pc *PageCache[T]) onEvict(key string, rec *record[T]) {
	if pc.removing {
		return
	}
	pc.evicted = append(pc.evicted, evicted[T]{key: key, rec: rec})
}

// unlock releases pc.mu and then spills whatever the LRU evicted meanwhile.
func (pc *PageCache[T]) unlock() {
	ev := pc.evicted
	pc.evicted = nil
	pc.mu.Unlock()

	for _, e := range ev {
		pc.reg.hooks.Evicted(e.key, pc.spillOne(e.key, e.rec))
	}
}

func (pc *PageCache[T]) spillOne(key string, rec *record[T]) bool {
	e := rec.entry
	if pc.spill == nil || rec.stale || e.Status != StatusSuccess {
		return false
	}

	items := make([][]byte, 0, len(e.Data))
	for _, v := range e.Data {
		b, err := pc.codec.Encode(v)
		if err != nil {
			pc.reg.log.Warn("spill encode failed", Fields{"key": key, "err": err})
			return false
		}
		items = append(items, b)
	}
	raw, err := wire.EncodePage(wire.Page{
		Gen:        e.Gen,
		Page:       e.Pagination.Page,
		PageSize:   e.Pagination.PageSize,
		Total:      e.Pagination.Total,
		TotalPages: e.Pagination.TotalPages,
		UpdatedAt:  e.UpdatedAt.UnixNano(),
		Items:      items,
	})
	if err != nil {
		pc.reg.log.Warn("spill frame failed", Fields{"key": key, "err": err})
		return false
	}

	ok, err := pc.spill.Set(pc.reg.ctx, key, raw, int64(len(raw)), pc.spillTTL)
	if err != nil {
		pc.reg.log.Warn("spill set failed", Fields{"key": key, "err": err})
		return false
	}
	if !ok {
		pc.reg.hooks.SpillRejected(key)
		return false
	}

	pc.mu.Lock()
	pc.spilled[key] = struct{}{}
	pc.mu.Unlock()
	return true
}
