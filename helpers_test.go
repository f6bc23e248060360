package pagequery

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/pagequery/provider"
)

// ---- in-memory spill provider ----

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu     sync.Mutex
	m      map[string]memEntry
	reject bool
	delErr error
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: value, exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delErr != nil {
		return p.delErr
	}
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

func (p *memProvider) put(key string, v []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = memEntry{v: v}
}

// ---- recording hooks ----

type recHooks struct {
	NopHooks
	mu      sync.Mutex
	started []string
	failed  []string
	dropped []string
	evicted map[string]bool
	heals   map[string]string
	rejects int
	inval   []Report
}

func newRecHooks() *recHooks {
	return &recHooks{evicted: map[string]bool{}, heals: map[string]string{}}
}

func (h *recHooks) FetchStarted(k string, _ uint64) {
	h.mu.Lock()
	h.started = append(h.started, k)
	h.mu.Unlock()
}

func (h *recHooks) FetchFailed(k string, _ error) {
	h.mu.Lock()
	h.failed = append(h.failed, k)
	h.mu.Unlock()
}

func (h *recHooks) StaleDropped(k string, _, _ uint64) {
	h.mu.Lock()
	h.dropped = append(h.dropped, k)
	h.mu.Unlock()
}

func (h *recHooks) Evicted(k string, spilled bool) {
	h.mu.Lock()
	h.evicted[k] = spilled
	h.mu.Unlock()
}

func (h *recHooks) SpillRejected(string) {
	h.mu.Lock()
	h.rejects++
	h.mu.Unlock()
}

func (h *recHooks) SelfHeal(k, reason string) {
	h.mu.Lock()
	h.heals[k] = reason
	h.mu.Unlock()
}

func (h *recHooks) Invalidated(p string, matched, refetched int) {
	h.mu.Lock()
	h.inval = append(h.inval, Report{Prefix: p, Matched: matched, Refetched: refetched})
	h.mu.Unlock()
}

func (h *recHooks) droppedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.dropped)
}

func (h *recHooks) heal(k string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.heals[k]
}

// ---- manual clock ----

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ---- fake remote dataset: rows "user1".."userN" ----

var errNetwork = errors.New("connection reset")

type dataset struct {
	mu     sync.Mutex
	rows   []string
	fail   string
	netErr error
	gate   chan struct{}

	tableCalls  []TableParams
	scrollCalls []ScrollRequest
}

func newDataset(n int) *dataset {
	d := &dataset{}
	for i := 1; i <= n; i++ {
		d.rows = append(d.rows, "user"+strconv.Itoa(i))
	}
	return d
}

// block makes every later fetch wait until the returned func is called.
func (d *dataset) block() (release func()) {
	ch := make(chan struct{})
	d.mu.Lock()
	d.gate = ch
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gate == ch {
				d.gate = nil
			}
			d.mu.Unlock()
			close(ch)
		})
	}
}

func (d *dataset) setFail(msg string) {
	d.mu.Lock()
	d.fail = msg
	d.mu.Unlock()
}

func (d *dataset) rename(i int, name string) {
	d.mu.Lock()
	d.rows[i] = name
	d.mu.Unlock()
}

func (d *dataset) table(ctx context.Context, p TableParams) (Result[string], error) {
	d.mu.Lock()
	d.tableCalls = append(d.tableCalls, p)
	d.mu.Unlock()
	return d.serve(ctx, p.Search, p.Page, p.PageSize)
}

func (d *dataset) scroll(ctx context.Context, r ScrollRequest) (Result[string], error) {
	d.mu.Lock()
	d.scrollCalls = append(d.scrollCalls, r)
	d.mu.Unlock()
	return d.serve(ctx, r.Search, r.Page, r.PageSize)
}

func (d *dataset) serve(ctx context.Context, search string, page, size int) (Result[string], error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Result[string]{}, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.netErr != nil {
		return Result[string]{}, d.netErr
	}
	if d.fail != "" {
		return Result[string]{Success: false, Error: d.fail}, nil
	}
	var rows []string
	for _, r := range d.rows {
		if strings.Contains(r, search) {
			rows = append(rows, r)
		}
	}
	return pageOf(rows, page, size), nil
}

func (d *dataset) tableCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tableCalls)
}

func (d *dataset) scrollRequests() []ScrollRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ScrollRequest(nil), d.scrollCalls...)
}

func (d *dataset) tableRequests() []TableParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]TableParams(nil), d.tableCalls...)
}

func pageOf[T any](rows []T, page, size int) Result[T] {
	total := len(rows)
	start := min((page-1)*size, total)
	end := min(start+size, total)
	return Result[T]{
		Success: true,
		Data:    append([]T(nil), rows[start:end]...),
		Pagination: &Pagination{
			Page:       page,
			PageSize:   size,
			Total:      total,
			TotalPages: (total + size - 1) / size,
		},
	}
}

// ---- constructors ----

func newTestRegistry(t *testing.T, hooks Hooks) *Registry {
	t.Helper()
	reg := NewRegistry(Options{Hooks: hooks})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Dispose(ctx)
	})
	return reg
}

func newTestCache[T any](t *testing.T, reg *Registry, opts CacheOptions[T]) *PageCache[T] {
	t.Helper()
	pc, err := NewPageCache[T](reg, opts)
	if err != nil {
		t.Fatalf("NewPageCache: %v", err)
	}
	return pc
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func okResult(items ...string) Result[string] {
	return pageOf(items, 1, max(len(items), 1))
}

func constFetch(res Result[string], err error) Fetcher[string] {
	return func(context.Context) (Result[string], error) { return res, err }
}

func mustWait[T any](t *testing.T, c *Call[T]) *Entry[T] {
	t.Helper()
	e, err := c.Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return e
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
