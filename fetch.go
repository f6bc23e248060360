package pagequery

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Call is one caller's handle to a fetch. Callers that joined the same fetch
// hold distinct Calls with the same Gen and observe the same result.
type Call[T any] struct {
	key  string
	gen  uint64
	done chan struct{}

	entry *Entry[T]
	err   error
}

func newCall[T any](key string, gen uint64) *Call[T] {
	return &Call[T]{key: key, gen: gen, done: make(chan struct{})}
}

func failedCall[T any](key string, err error) *Call[T] {
	c := newCall[T](key, 0)
	c.err = err
	close(c.done)
	return c
}

func (c *Call[T]) Key() string { return c.key }

// Gen is the generation the fetch was issued under.
func (c *Call[T]) Gen() uint64 { return c.gen }

// Done is closed once the fetch resolved and was committed or dropped.
func (c *Call[T]) Done() <-chan struct{} { return c.done }

// Wait blocks until the fetch resolves or ctx ends. It returns the committed
// entry (which may carry StatusError), ErrSuperseded when a newer generation
// won, or ErrDisposed when the registry went away.
func (c *Call[T]) Wait(ctx context.Context) (*Entry[T], error) {
	select {
	case <-c.done:
		return c.entry, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Joins reports whether c and o wait on the same fetch.
func (c *Call[T]) Joins(o *Call[T]) bool {
	return o != nil && c.gen != 0 && c.key == o.key && c.gen == o.gen
}

func (c *Call[T]) resolve(ch <-chan singleflight.Result) {
	r := <-ch
	if r.Err != nil {
		c.err = r.Err
	} else {
		c.entry, _ = r.Val.(*Entry[T])
	}
	close(c.done)
}

// Fetch issues fn for key, or joins the fetch already in flight for key's
// current generation. A new fetch bumps the generation and marks the key
// pending while keeping the last successful data visible. The fetcher runs in
// the registry's lifetime context; ctx only parents the trace span.
// Nothing is retried.
func (pc *PageCache[T]) Fetch(ctx context.Context, key string, fn Fetcher[T]) *Call[T] {
	pc.mu.Lock()
	_, call := pc.fetchLocked(ctx, key, fn)
	pc.unlock()
	return call
}

// Load returns key's entry without a call when it is fresh. Otherwise it
// returns whatever is cached (nil on a miss) plus the fetch that replaces it.
func (pc *PageCache[T]) Load(ctx context.Context, key string, fn Fetcher[T]) (*Entry[T], *Call[T]) {
	pc.mu.Lock()
	rec, ok := pc.lookup(key)
	if ok && pc.fresh(rec) {
		pc.unlock()
		pc.reg.hooks.CacheHit(key)
		return rec.entry, nil
	}
	e, call := pc.fetchLocked(ctx, key, fn)
	pc.unlock()

	if ok {
		pc.reg.hooks.CacheHit(key)
	} else {
		pc.reg.hooks.CacheMiss(key)
	}
	return e, call
}

// flight is the fetch running for a key. Later callers at the same
// generation join it through pc.sf, keyed by the cache key alone.
type flight struct {
	gen uint64
	fn  func() (any, error)
}

// fetchLocked returns the entry now visible for key and the call behind it.
// pc.mu held.
func (pc *PageCache[T]) fetchLocked(ctx context.Context, key string, fn Fetcher[T]) (*Entry[T], *Call[T]) {
	if pc.closed {
		return nil, failedCall[T](key, ErrDisposed)
	}
	if f := pc.current(key); f != nil {
		// pc.sf still holds f: it leaves the group only after commit removed
		// it from pc.inflight, or through Forget when a newer flight starts.
		call := newCall[T](key, f.gen)
		go call.resolve(pc.sf.DoChan(key, f.fn))
		if rec, ok := pc.lru.Peek(key); ok {
			return rec.entry, call
		}
		return nil, call
	}

	// Revive before bumping: a spilled page is only valid at the old generation.
	var prev *Entry[T]
	if rec, ok := pc.lookup(key); ok {
		prev = rec.entry.lastSuccess()
	}

	if !pc.reg.startFlight() {
		return nil, failedCall[T](key, ErrDisposed)
	}
	g, err := pc.gens.Bump(pc.reg.ctx, key)
	if err != nil {
		pc.reg.flights.Done()
		return nil, failedCall[T](key, err)
	}

	pending := &Entry[T]{Key: key, Status: StatusPending, Gen: g, Previous: prev}
	pc.lru.Add(key, &record[T]{entry: pending})

	parent := trace.SpanContextFromContext(ctx)
	f := &flight{gen: g, fn: func() (any, error) {
		return pc.run(parent, key, g, fn)
	}}
	pc.inflight[key] = f

	// An older flight may still sit in the group: superseded, or committed
	// but not yet returned. Neither may be joined at g.
	pc.sf.Forget(key)
	call := newCall[T](key, g)
	go call.resolve(pc.sf.DoChan(key, f.fn))

	pc.reg.hooks.FetchStarted(key, g)
	return pending, call
}

// current returns the flight running at key's current generation. pc.mu held.
func (pc *PageCache[T]) current(key string) *flight {
	f, ok := pc.inflight[key]
	if !ok {
		return nil
	}
	cur, err := pc.gens.Snapshot(pc.reg.ctx, key)
	if err != nil || cur != f.gen {
		return nil
	}
	return f
}

func (pc *PageCache[T]) run(parent trace.SpanContext, key string, g uint64, fn Fetcher[T]) (*Entry[T], error) {
	defer pc.reg.flights.Done()

	ctx, span := pc.reg.tracer.Start(
		trace.ContextWithSpanContext(pc.reg.ctx, parent),
		"pagequery.fetch",
		trace.WithAttributes(
			attribute.String("pagequery.key", key),
			attribute.Int64("pagequery.gen", int64(g)),
		),
	)
	defer span.End()

	res, err := invoke(ctx, fn)
	e := normalize(key, g, res, err, pc.now())
	span.SetAttributes(attribute.String("pagequery.status", e.Status.String()))
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	}

	if err := pc.commit(e); err != nil {
		span.SetAttributes(attribute.Bool("pagequery.dropped", true))
		return nil, err
	}
	if e.Status == StatusError {
		pc.reg.hooks.FetchFailed(key, e.Err)
		pc.reg.log.Debug("fetch failed", Fields{"key": key, "gen": g, "err": e.Err})
	}
	return e, nil
}

// commit publishes e only while its generation is current.
func (pc *PageCache[T]) commit(e *Entry[T]) error {
	pc.mu.Lock()
	if f, ok := pc.inflight[e.Key]; ok && f.gen == e.Gen {
		delete(pc.inflight, e.Key)
	}
	if pc.closed || pc.reg.ctx.Err() != nil {
		pc.mu.Unlock()
		return ErrDisposed
	}
	cur, err := pc.gens.Snapshot(pc.reg.ctx, e.Key)
	if err != nil || cur != e.Gen {
		pc.mu.Unlock()
		pc.reg.hooks.StaleDropped(e.Key, e.Gen, cur)
		return ErrSuperseded
	}

	if e.Status != StatusSuccess {
		if rec, ok := pc.lru.Peek(e.Key); ok {
			e.Previous = rec.entry.lastSuccess()
		}
	}
	pc.lru.Add(e.Key, &record[T]{entry: e})
	pc.unlock()
	return nil
}

func invoke[T any](ctx context.Context, fn Fetcher[T]) (res Result[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetcher panicked: %v", r)
		}
	}()
	return fn(ctx)
}
