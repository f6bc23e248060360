package pagequery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/unkn0wn-root/pagequery/debounce"
	"github.com/unkn0wn-root/pagequery/visibility"
)

const DefaultScrollSearchDelay = 300 * time.Millisecond

// ScrollFetcher loads one cursor page of an infinite list.
type ScrollFetcher[T any] func(ctx context.Context, req ScrollRequest) (Result[T], error)

// ScrollOptions configure a ScrollQuery. Only Namespace is required.
type ScrollOptions[T any] struct {
	Namespace string
	// Scope partitions lists beyond the search (e.g. a parent id). Values
	// must be hashable.
	Scope       []any
	PageSize    int           // 0 => 10
	SearchDelay time.Duration // 0 => 300ms; negative => no debounce
	// ItemID identifies items for the visibility trigger. nil uses the list
	// position.
	ItemID   func(T) string
	OnChange func()
}

// ScrollView is what an infinite selector renders.
type ScrollView[T any] struct {
	Items        []T
	Loading      bool // first page in flight, nothing to show
	Fetching     bool // any page of the list in flight
	FetchingNext bool
	HasNextPage  bool
	Err          error
	Search       string
	SearchInput  string
	LastItemID   string // attach point of the visibility trigger
}

// pageList is the merged state of one list key. Cursors 1..len(pages) are
// committed with no gaps. gen changes whenever the list is reset so that a
// next-page response for an older incarnation is ignored.
type pageList[T any] struct {
	key     string
	gen     uint64
	pages   []*Entry[T]
	hasNext bool
	err     error
	head    *tracked[T] // page 1 (re)load
	next    *tracked[T] // cursor len(pages)+1
}

func (l *pageList[T]) items() []T {
	n := 0
	for _, p := range l.pages {
		n += len(p.Data)
	}
	out := make([]T, 0, n)
	for _, p := range l.pages {
		out = append(out, p.Data...)
	}
	return out
}

// ScrollQuery drives an infinite list: a debounced search picks the list,
// page 1 loads on open, and further cursors load one at a time when the last
// item becomes reachable.
type ScrollQuery[T any] struct {
	cache   *PageCache[T]
	fetch   ScrollFetcher[T]
	opts    ScrollOptions[T]
	gate    *debounce.Gate[string]
	trigger *visibility.Trigger
	unsub   func()

	mu     sync.Mutex
	lists  *lru.Cache[string, *pageList[T]]
	cur    *pageList[T]
	search string
	input  string
	closed bool
}

var _ Controller = (*ScrollQuery[struct{}])(nil)

func NewScrollQuery[T any](cache *PageCache[T], fetch ScrollFetcher[T], opts ScrollOptions[T]) (*ScrollQuery[T], error) {
	if cache == nil || fetch == nil {
		return nil, errors.New("pagequery: cache and fetch are required")
	}
	if opts.Namespace == "" {
		return nil, errors.New("pagequery: namespace is required")
	}
	if opts.PageSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, opts.PageSize)
	}
	opts.PageSize = coalesce(opts.PageSize, DefaultPageSize)

	lists, err := lru.New[string, *pageList[T]](cache.capacity)
	if err != nil {
		return nil, err
	}

	q := &ScrollQuery[T]{
		cache: cache,
		fetch: fetch,
		opts:  opts,
		lists: lists,
	}
	q.trigger = visibility.New(q.ready)
	q.gate = debounce.New(max(coalesce(opts.SearchDelay, DefaultScrollSearchDelay), 0), q.applySearch)
	q.unsub = cache.reg.bus.Subscribe(q.currentKey, q.Refetch)

	q.mu.Lock()
	q.openLocked()
	q.mu.Unlock()
	return q, nil
}

// SetSearch records raw input; the list switches once the input settles.
func (q *ScrollQuery[T]) SetSearch(input string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.input = input
	q.mu.Unlock()
	q.gate.Propagate(input)
	q.notify()
}

// FlushSearch applies pending input immediately.
func (q *ScrollQuery[T]) FlushSearch() bool { return q.gate.Flush() }

func (q *ScrollQuery[T]) applySearch(s string) {
	q.mu.Lock()
	if q.closed || s == q.search {
		q.mu.Unlock()
		return
	}
	q.search = s
	q.openLocked()
	q.mu.Unlock()
	q.notify()
}

// FetchNextPage requests the cursor after the last committed page. It is a
// no-op (false) when the list has no next page, a page is already loading,
// or page 1 has not been committed yet.
func (q *ScrollQuery[T]) FetchNextPage() bool {
	q.mu.Lock()
	l := q.cur
	if q.closed || l == nil || !l.hasNext || l.next != nil || l.head != nil || len(l.pages) == 0 {
		q.mu.Unlock()
		return false
	}

	cursor := len(l.pages) + 1
	key := PageKey(l.key, cursor)
	fn := q.fetcher(cursor)

	e, call := q.cache.Load(context.Background(), key, fn)
	if call == nil && e.UpdatedAt.Before(l.pages[0].UpdatedAt) {
		// Cached, but older than the head of the list: offsets may have shifted.
		call = q.cache.Fetch(context.Background(), key, fn)
	}
	if call == nil {
		q.appendLocked(l, e)
		q.mu.Unlock()
		q.notify()
		return true
	}

	t := &tracked[T]{call: call, applied: make(chan struct{})}
	l.next = t
	go q.watchNext(l, l.gen, cursor, t)
	q.mu.Unlock()
	q.notify()
	return true
}

// Reached reports that the item id became visible. It returns whether that
// triggered a next-page fetch.
func (q *ScrollQuery[T]) Reached(id string) bool {
	return q.trigger.Reach(id)
}

// Key returns the current list key. Page keys live under it.
func (q *ScrollQuery[T]) Key() string { return q.currentKey() }

func (q *ScrollQuery[T]) currentKey() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cur == nil {
		return ""
	}
	return q.cur.key
}

func (q *ScrollQuery[T]) View() ScrollView[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	v := ScrollView[T]{Search: q.search, SearchInput: q.input}
	l := q.cur
	if l == nil {
		return v
	}
	v.Items = l.items()
	v.FetchingNext = l.next != nil
	v.Fetching = l.head != nil || l.next != nil
	v.Loading = l.head != nil && len(l.pages) == 0
	v.HasNextPage = l.hasNext && len(l.pages) > 0
	v.Err = l.err
	v.LastItemID = q.lastID(l)
	return v
}

// Invalidate marks every list of the namespace stale, whatever its search,
// and reloads the current list from page 1.
func (q *ScrollQuery[T]) Invalidate() {
	ns := q.opts.Namespace
	if _, err := q.cache.reg.Invalidate(context.Background(), ns); err != nil {
		q.cache.reg.log.Warn("scroll invalidate failed", Fields{"namespace": ns, "err": err})
	}
}

// Refetch reloads page 1 of the current list. The loaded pages stay visible
// until it resolves; then the list restarts from that page.
func (q *ScrollQuery[T]) Refetch() {
	q.mu.Lock()
	if q.closed || q.cur == nil {
		q.mu.Unlock()
		return
	}
	q.startHeadLocked(q.cur, true)
	q.mu.Unlock()
	q.notify()
}

// Settle blocks until no page of the current list is in flight.
func (q *ScrollQuery[T]) Settle(ctx context.Context) error {
	for {
		q.mu.Lock()
		var t *tracked[T]
		if l := q.cur; l != nil {
			if l.head != nil {
				t = l.head
			} else {
				t = l.next
			}
		}
		q.mu.Unlock()
		if t == nil {
			return nil
		}
		select {
		case <-t.applied:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *ScrollQuery[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	id := q.trigger.Attached()
	q.mu.Unlock()
	q.gate.Close()
	q.trigger.Detach(id)
	q.unsub()
}

func (q *ScrollQuery[T]) ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.cur
	return !q.closed && l != nil && l.hasNext && l.next == nil && l.head == nil && len(l.pages) > 0
}

func (q *ScrollQuery[T]) fetcher(cursor int) Fetcher[T] {
	req := ScrollRequest{Page: cursor, PageSize: q.opts.PageSize, Search: q.search}
	return func(ctx context.Context) (Result[T], error) { return q.fetch(ctx, req) }
}

// openLocked switches to the list of the current search. Lists left earlier
// keep their pages; returning to one reuses it while page 1 is fresh.
// q.mu held.
func (q *ScrollQuery[T]) openLocked() {
	key := ScrollKey(q.opts.Namespace, ScrollParams{Search: q.search, PageSize: q.opts.PageSize}, q.opts.Scope...)
	l, ok := q.lists.Get(key)
	if !ok {
		l = q.rebuild(key)
		q.lists.Add(key, l)
	}
	q.cur = l

	switch {
	case l.head != nil:
	case len(l.pages) == 0:
		q.startHeadLocked(l, false)
	case !q.cache.Fresh(PageKey(key, 1)):
		q.startHeadLocked(l, true)
	}
	q.reattachLocked()
}

// rebuild recovers a list from contiguous fresh pages still in the cache.
func (q *ScrollQuery[T]) rebuild(key string) *pageList[T] {
	l := &pageList[T]{key: key, hasNext: true}
	for cursor := 1; ; cursor++ {
		e, ok := q.cache.freshEntry(PageKey(key, cursor))
		if !ok || (cursor > 1 && e.UpdatedAt.Before(l.pages[0].UpdatedAt)) {
			break
		}
		l.pages = append(l.pages, e)
		l.hasNext = e.Pagination.HasNext()
		if !l.hasNext {
			break
		}
	}
	return l
}

// startHeadLocked (re)loads page 1 of l. q.mu held.
func (q *ScrollQuery[T]) startHeadLocked(l *pageList[T], force bool) {
	key := PageKey(l.key, 1)
	fn := q.fetcher(1)

	var (
		e    *Entry[T]
		call *Call[T]
	)
	if force {
		call = q.cache.Fetch(context.Background(), key, fn)
	} else {
		e, call = q.cache.Load(context.Background(), key, fn)
	}
	if call == nil {
		q.resetLocked(l, e)
		return
	}
	if l.head != nil && l.head.call.Joins(call) {
		return
	}
	t := &tracked[T]{call: call, applied: make(chan struct{})}
	l.head = t
	go q.watchHead(l, t)
}

func (q *ScrollQuery[T]) watchHead(l *pageList[T], t *tracked[T]) {
	e, err := t.call.Wait(context.Background())
	q.mu.Lock()
	if l.head == t {
		l.head = nil
		switch {
		case err == nil:
			q.resetLocked(l, e)
		case errors.Is(err, ErrDisposed):
			l.err = err
		case errors.Is(err, ErrSuperseded) && len(l.pages) == 0 && l == q.cur && !q.closed:
			// Nothing to show yet: load page 1 at its new generation.
			q.startHeadLocked(l, false)
		}
	}
	q.mu.Unlock()
	q.notify()
	close(t.applied)
}

// resetLocked restarts l from a resolved page 1. A failed page 1 keeps the
// old pages visible. q.mu held.
func (q *ScrollQuery[T]) resetLocked(l *pageList[T], e *Entry[T]) {
	if e.Status != StatusSuccess {
		l.err = e.Err
		if len(l.pages) == 0 {
			l.hasNext = false
		}
		return
	}
	l.gen++
	l.next = nil
	l.pages = []*Entry[T]{e}
	l.hasNext = e.Pagination.HasNext()
	l.err = nil
	if l == q.cur {
		q.reattachLocked()
	}
}

func (q *ScrollQuery[T]) watchNext(l *pageList[T], gen uint64, cursor int, t *tracked[T]) {
	e, err := t.call.Wait(context.Background())
	q.mu.Lock()
	if l.next == t {
		l.next = nil
		switch {
		case err != nil:
			if errors.Is(err, ErrDisposed) {
				l.err = err
			}
		case l.gen != gen || len(l.pages) != cursor-1:
		case e.Status == StatusSuccess:
			q.appendLocked(l, e)
		default:
			l.err = e.Err
		}
	}
	q.mu.Unlock()
	q.notify()
	close(t.applied)
}

// appendLocked commits the next cursor page. q.mu held.
func (q *ScrollQuery[T]) appendLocked(l *pageList[T], e *Entry[T]) {
	l.pages = append(l.pages, e)
	l.hasNext = e.Pagination.HasNext()
	l.err = nil
	if l == q.cur {
		q.reattachLocked()
	}
}

// reattachLocked points the visibility trigger at the current last item.
func (q *ScrollQuery[T]) reattachLocked() {
	id := q.lastID(q.cur)
	if id == "" {
		q.trigger.Detach(q.trigger.Attached())
		return
	}
	q.trigger.Attach(id, func() { q.FetchNextPage() })
}

func (q *ScrollQuery[T]) lastID(l *pageList[T]) string {
	if l == nil {
		return ""
	}
	for i := len(l.pages) - 1; i >= 0; i-- {
		data := l.pages[i].Data
		if len(data) == 0 {
			continue
		}
		if q.opts.ItemID != nil {
			return q.opts.ItemID(data[len(data)-1])
		}
		n := 0
		for _, p := range l.pages {
			n += len(p.Data)
		}
		return fmt.Sprintf("%s/%d/%d", l.key, l.gen, n)
	}
	return ""
}

func (q *ScrollQuery[T]) notify() {
	if q.opts.OnChange != nil {
		q.opts.OnChange()
	}
}
