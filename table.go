package pagequery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/unkn0wn-root/pagequery/debounce"
)

const (
	DefaultTableSearchDelay = 500 * time.Millisecond
	DefaultSortBy           = "createdAt"
	DefaultSortOrder        = SortDesc
)

// DefaultPageSizes are offered when TableOptions.PageSizes is empty.
var DefaultPageSizes = []int{10, 25, 50}

// TableFetcher loads one table page.
type TableFetcher[T any] func(ctx context.Context, p TableParams) (Result[T], error)

// Controller is the handle a host uses to force fresh data.
type Controller interface {
	// Invalidate marks the query's namespace stale everywhere and refetches
	// what is shown.
	Invalidate()
	// Refetch reloads the current key, ignoring freshness.
	Refetch()
}

// TableOptions configure a TableQuery. Only Namespace is required.
type TableOptions struct {
	Namespace   string
	SearchDelay time.Duration // 0 => 500ms; negative => no debounce
	PageSizes   []int         // first is the initial size; empty => 10, 25, 50
	SortBy      string        // "" => "createdAt"
	SortOrder   SortOrder     // "" => desc
	// Sortable lists the columns ToggleSort accepts; nil accepts any column.
	Sortable []string
	// DisablePlaceholder stops showing the previous parameter set's rows
	// while a new key loads.
	DisablePlaceholder bool
	// OnChange is called after every state change, without locks held.
	OnChange func()
}

// TableView is what a table renders.
type TableView[T any] struct {
	Items       []T
	Loading     bool // nothing to show yet for the current key
	Fetching    bool // a fetch for the current key is in flight
	Placeholder bool // Items belong to the previous parameter set
	Err         error
	Pagination  PageSummary
	Params      TableParams
	SearchInput string
}

// tracked pairs a call with the moment its result was applied to a view.
type tracked[T any] struct {
	call    *Call[T]
	applied chan struct{}
}

// TableQuery drives a paginated, sortable, searchable table: search goes
// through a debounce gate, every parameter set maps to one cache key, and
// page changes replace the visible rows.
type TableQuery[T any] struct {
	cache    *PageCache[T]
	fetch    TableFetcher[T]
	opts     TableOptions
	sortable map[string]struct{}
	gate     *debounce.Gate[string]
	unsub    func()

	mu          sync.Mutex
	params      TableParams
	input       string
	key         string
	placeholder *Entry[T]
	pending     *tracked[T]
	closed      bool
}

var _ Controller = (*TableQuery[struct{}])(nil)

func NewTableQuery[T any](cache *PageCache[T], fetch TableFetcher[T], opts TableOptions) (*TableQuery[T], error) {
	if cache == nil || fetch == nil {
		return nil, errors.New("pagequery: cache and fetch are required")
	}
	if opts.Namespace == "" {
		return nil, errors.New("pagequery: namespace is required")
	}
	if len(opts.PageSizes) == 0 {
		opts.PageSizes = DefaultPageSizes
	}
	for _, n := range opts.PageSizes {
		if n < 1 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, n)
		}
	}
	opts.SortBy = coalesce(opts.SortBy, DefaultSortBy)
	opts.SortOrder = coalesce(opts.SortOrder, DefaultSortOrder)

	q := &TableQuery[T]{
		cache: cache,
		fetch: fetch,
		opts:  opts,
		params: TableParams{
			Page:      1,
			PageSize:  opts.PageSizes[0],
			SortBy:    opts.SortBy,
			SortOrder: opts.SortOrder,
		}.Canonical(),
	}
	if opts.Sortable != nil {
		q.sortable = make(map[string]struct{}, len(opts.Sortable))
		for _, col := range opts.Sortable {
			q.sortable[col] = struct{}{}
		}
	}
	q.gate = debounce.New(max(coalesce(opts.SearchDelay, DefaultTableSearchDelay), 0), q.applySearch)
	q.unsub = cache.reg.bus.Subscribe(q.currentKey, q.Refetch)

	q.mu.Lock()
	q.loadLocked(false)
	q.mu.Unlock()
	return q, nil
}

// SetSearch records raw input. The search parameter follows once the input
// has been quiet for the search delay; a changed search resets to page 1.
func (q *TableQuery[T]) SetSearch(input string) {
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
func (q *TableQuery[T]) FlushSearch() bool { return q.gate.Flush() }

func (q *TableQuery[T]) applySearch(s string) {
	q.update(func(p *TableParams) bool {
		if p.Search == s {
			return false
		}
		p.Search = s
		p.Page = 1
		return true
	})
}

// SetPage moves to page n (clamped to >= 1).
func (q *TableQuery[T]) SetPage(n int) {
	q.update(func(p *TableParams) bool {
		n = max(n, 1)
		if p.Page == n {
			return false
		}
		p.Page = n
		return true
	})
}

// SetPageSize changes the page size and resets to page 1.
func (q *TableQuery[T]) SetPageSize(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, n)
	}
	q.update(func(p *TableParams) bool {
		if p.PageSize == n {
			return false
		}
		p.PageSize = n
		p.Page = 1
		return true
	})
	return nil
}

// ToggleSort handles a click on column: the active column flips its order,
// another column becomes active ascending. Either way the page resets to 1.
// It reports false for columns that are not sortable.
func (q *TableQuery[T]) ToggleSort(column string) bool {
	if !q.canSort(column) {
		return false
	}
	q.update(func(p *TableParams) bool {
		if p.SortBy == column {
			p.SortOrder = p.SortOrder.Flip()
		} else {
			p.SortBy = column
			p.SortOrder = SortAsc
		}
		p.Page = 1
		return true
	})
	return true
}

func (q *TableQuery[T]) canSort(column string) bool {
	if column == "" {
		return false
	}
	if q.sortable == nil {
		return true
	}
	_, ok := q.sortable[column]
	return ok
}

// PageSizes returns the page sizes a consumer may offer.
func (q *TableQuery[T]) PageSizes() []int { return slices.Clone(q.opts.PageSizes) }

// Params returns the parameters of the current key.
func (q *TableQuery[T]) Params() TableParams {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.params
}

// Key returns the current cache key.
func (q *TableQuery[T]) Key() string { return q.currentKey() }

func (q *TableQuery[T]) currentKey() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.key
}

func (q *TableQuery[T]) View() TableView[T] {
	q.mu.Lock()
	key, params, input, ph := q.key, q.params, q.input, q.placeholder
	q.mu.Unlock()

	e, _ := q.cache.snapshot(key)
	v := TableView[T]{Params: params, SearchInput: input}
	v.Fetching = e != nil && e.Status == StatusPending

	shown := e
	if !e.HasData() && ph != nil && !q.opts.DisablePlaceholder {
		shown = ph
		v.Placeholder = true
	}
	v.Items = shown.Items()
	v.Loading = v.Fetching && !shown.HasData()
	if e != nil && e.Status == StatusError {
		v.Err = e.Err
	}

	pg, _ := shown.Page()
	v.Pagination = summarize(params.Page, params.PageSize, pg)
	return v
}

// Invalidate drops the freshness of every page of the table's namespace in
// every cache. The current page refetches at once; other pages refetch on
// their next access.
func (q *TableQuery[T]) Invalidate() {
	ns := q.opts.Namespace
	if _, err := q.cache.reg.Invalidate(context.Background(), ns); err != nil {
		q.cache.reg.log.Warn("table invalidate failed", Fields{"namespace": ns, "err": err})
	}
}

// Refetch reloads the current key even if it is fresh. A fetch already in
// flight for the key is joined.
func (q *TableQuery[T]) Refetch() {
	q.mu.Lock()
	q.loadLocked(true)
	q.mu.Unlock()
	q.notify()
}

// Settle blocks until the fetch behind the current key has been applied.
// Pending search input is not flushed.
func (q *TableQuery[T]) Settle(ctx context.Context) error {
	for {
		q.mu.Lock()
		t := q.pending
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

// Close cancels pending search input and unsubscribes from invalidations.
func (q *TableQuery[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.gate.Close()
	q.unsub()
}

func (q *TableQuery[T]) update(fn func(*TableParams) bool) {
	q.mu.Lock()
	if q.closed || !fn(&q.params) {
		q.mu.Unlock()
		return
	}
	q.params = q.params.Canonical()
	q.loadLocked(false)
	q.mu.Unlock()
	q.notify()
}

// loadLocked points the query at the key of q.params. q.mu held.
func (q *TableQuery[T]) loadLocked(force bool) {
	if q.closed {
		return
	}
	key := TableKey(q.opts.Namespace, q.params)
	if key != q.key {
		if prev, ok := q.cache.snapshot(q.key); ok && prev.HasData() {
			q.placeholder = prev
		}
		q.key = key
	}

	p := q.params
	fn := func(ctx context.Context) (Result[T], error) { return q.fetch(ctx, p) }

	var call *Call[T]
	if force {
		call = q.cache.Fetch(context.Background(), key, fn)
	} else {
		_, call = q.cache.Load(context.Background(), key, fn)
	}
	if call == nil {
		q.pending = nil
		return
	}
	if q.pending != nil && q.pending.call.Joins(call) {
		return
	}
	t := &tracked[T]{call: call, applied: make(chan struct{})}
	q.pending = t
	go q.watch(t)
}

func (q *TableQuery[T]) watch(t *tracked[T]) {
	<-t.call.Done()
	q.mu.Lock()
	if q.pending == t {
		q.pending = nil
	}
	q.mu.Unlock()
	q.notify()
	close(t.applied)
}

func (q *TableQuery[T]) notify() {
	if q.opts.OnChange != nil {
		q.opts.OnChange()
	}
}
