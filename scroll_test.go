package pagequery

import (
	"context"
	"strconv"
	"strings"
	"testing"
)

func newTestScroll(t *testing.T, d *dataset, opts ScrollOptions[string]) *ScrollQuery[string] {
	t.Helper()
	reg := newTestRegistry(t, nil)
	pc := newTestCache[string](t, reg, CacheOptions[string]{})
	if opts.Namespace == "" {
		opts.Namespace = "members"
	}
	if opts.SearchDelay == 0 {
		opts.SearchDelay = -1
	}
	q, err := NewScrollQuery(pc, d.scroll, opts)
	if err != nil {
		t.Fatalf("NewScrollQuery: %v", err)
	}
	t.Cleanup(q.Close)
	return q
}

func cursors(reqs []ScrollRequest) []int {
	out := make([]int, len(reqs))
	for i, r := range reqs {
		out[i] = r.Page
	}
	return out
}

func nextPage(t *testing.T, q *ScrollQuery[string]) {
	t.Helper()
	if !q.FetchNextPage() {
		t.Fatal("FetchNextPage refused")
	}
	settle(t, q)
}

func TestScrollLoadsCursorsInOrder(t *testing.T) {
	d := newDataset(25)
	q := newTestScroll(t, d, ScrollOptions[string]{PageSize: 10})
	settle(t, q)

	v := q.View()
	if len(v.Items) != 10 || !v.HasNextPage || v.Loading || v.Fetching {
		t.Fatalf("first page view = %+v", v)
	}
	nextPage(t, q)
	if n := len(q.View().Items); n != 20 {
		t.Fatalf("after cursor 2: %d items", n)
	}
	nextPage(t, q)

	v = q.View()
	if len(v.Items) != 25 || v.HasNextPage {
		t.Fatalf("final view: %d items, hasNext=%v", len(v.Items), v.HasNextPage)
	}
	if q.FetchNextPage() || q.FetchNextPage() {
		t.Fatal("FetchNextPage ran past the last page")
	}
	if got := cursors(d.scrollRequests()); !equalInts(got, []int{1, 2, 3}) {
		t.Fatalf("cursors = %v", got)
	}
	for i, it := range v.Items {
		if it != "user"+strconv.Itoa(i+1) {
			t.Fatalf("item %d = %q", i, it)
		}
	}
}

func TestScrollNextPageGuards(t *testing.T) {
	d := newDataset(50)
	release := d.block()
	q := newTestScroll(t, d, ScrollOptions[string]{})

	if v := q.View(); !v.Loading || v.HasNextPage {
		t.Fatalf("initial view = %+v", v)
	}
	if q.FetchNextPage() {
		t.Fatal("next page requested before page 1 committed")
	}
	release()
	settle(t, q)

	release = d.block()
	if !q.FetchNextPage() {
		t.Fatal("FetchNextPage refused")
	}
	if q.FetchNextPage() {
		t.Fatal("second concurrent next page accepted")
	}
	if v := q.View(); !v.FetchingNext || v.Loading || len(v.Items) != 10 {
		t.Fatalf("while fetching next = %+v", v)
	}
	release()
	settle(t, q)

	if got := cursors(d.scrollRequests()); !equalInts(got, []int{1, 2}) {
		t.Fatalf("cursors = %v", got)
	}
}

func TestScrollVisibilityTrigger(t *testing.T) {
	d := newDataset(30)
	q := newTestScroll(t, d, ScrollOptions[string]{ItemID: func(s string) string { return s }})
	settle(t, q)

	v := q.View()
	if v.LastItemID != "user10" {
		t.Fatalf("LastItemID = %q", v.LastItemID)
	}
	if q.Reached("user3") {
		t.Fatal("non-last item triggered a fetch")
	}
	if !q.Reached("user10") {
		t.Fatal("last item did not trigger")
	}
	if q.Reached("user10") {
		t.Fatal("trigger fired twice for one attach")
	}
	settle(t, q)

	if got := q.View().LastItemID; got != "user20" {
		t.Fatalf("LastItemID = %q", got)
	}
	if !q.Reached("user20") {
		t.Fatal("trigger not re-armed")
	}
	settle(t, q)
	v = q.View()
	if len(v.Items) != 30 || v.HasNextPage || q.Reached(v.LastItemID) {
		t.Fatalf("end of list: %d items hasNext=%v", len(v.Items), v.HasNextPage)
	}
}

func TestScrollPositionalItemIDs(t *testing.T) {
	d := newDataset(15)
	q := newTestScroll(t, d, ScrollOptions[string]{})
	settle(t, q)

	id := q.View().LastItemID
	if !strings.HasPrefix(id, q.Key()) {
		t.Fatalf("LastItemID = %q", id)
	}
	if !q.Reached(id) {
		t.Fatal("positional id did not trigger")
	}
	settle(t, q)
	if len(q.View().Items) != 15 {
		t.Fatal("second page not loaded")
	}
}

func TestScrollSearchSwitchesAndReusesLists(t *testing.T) {
	d := newDataset(40)
	q := newTestScroll(t, d, ScrollOptions[string]{})
	settle(t, q)
	nextPage(t, q)
	all := q.Key()

	q.SetSearch("user3")
	settle(t, q)
	v := q.View()
	if q.Key() == all || v.Search != "user3" {
		t.Fatalf("list not switched: %+v", v)
	}
	for _, it := range v.Items {
		if !strings.Contains(it, "user3") {
			t.Fatalf("unfiltered item %q", it)
		}
	}
	reqs := d.scrollRequests()
	if last := reqs[len(reqs)-1]; last.Search != "user3" || last.Page != 1 {
		t.Fatalf("search request = %+v", last)
	}

	before := len(reqs)
	q.SetSearch("")
	settle(t, q)
	if q.Key() != all {
		t.Fatal("did not return to the unfiltered list")
	}
	if n := len(q.View().Items); n != 20 {
		t.Fatalf("reused list shows %d items, want 20", n)
	}
	if n := len(d.scrollRequests()); n != before {
		t.Fatalf("returning to a fresh list fetched %d pages", n-before)
	}
}

func TestScrollIgnoresOldListResponses(t *testing.T) {
	d := newDataset(40)
	q := newTestScroll(t, d, ScrollOptions[string]{})
	settle(t, q)

	release := d.block()
	if !q.FetchNextPage() {
		t.Fatal("FetchNextPage refused")
	}
	q.SetSearch("user2")
	release()
	settle(t, q)

	v := q.View()
	if v.Search != "user2" {
		t.Fatalf("search = %q", v.Search)
	}
	for _, it := range v.Items {
		if !strings.Contains(it, "user2") {
			t.Fatalf("old list leaked item %q", it)
		}
	}
}

func TestScrollInvalidateRestartsFromFirstPage(t *testing.T) {
	d := newDataset(40)
	q := newTestScroll(t, d, ScrollOptions[string]{})
	settle(t, q)
	nextPage(t, q)

	release := d.block()
	d.rename(0, "renamed")
	q.Invalidate()
	v := q.View()
	if len(v.Items) != 20 || !v.Fetching || v.Loading {
		t.Fatalf("while revalidating = %d items fetching=%v loading=%v", len(v.Items), v.Fetching, v.Loading)
	}
	release()
	settle(t, q)

	v = q.View()
	if len(v.Items) != 10 || v.Items[0] != "renamed" || !v.HasNextPage {
		t.Fatalf("after invalidate = %+v", v)
	}
	nextPage(t, q)
	got := cursors(d.scrollRequests())
	if !equalInts(got, []int{1, 2, 1, 2}) {
		t.Fatalf("cursors = %v", got)
	}
}

func TestScrollInvalidateCoversOtherSearches(t *testing.T) {
	d := newDataset(30)
	q := newTestScroll(t, d, ScrollOptions[string]{})
	settle(t, q)
	search := func(s string) {
		q.SetSearch(s)
		q.FlushSearch()
		settle(t, q)
	}
	search("user1")
	search("")
	before := len(d.scrollRequests())

	q.Invalidate()
	settle(t, q)
	search("user1")

	got := d.scrollRequests()[before:]
	if len(got) != 2 {
		t.Fatalf("requests after invalidate = %+v", got)
	}
	if got[0].Search != "" || got[1].Search != "user1" || got[1].Page != 1 {
		t.Fatalf("requests after invalidate = %+v", got)
	}
}

func TestScrollFirstPageReloadsAfterCacheInvalidation(t *testing.T) {
	d := newDataset(30)
	release := d.block()
	q := newTestScroll(t, d, ScrollOptions[string]{})

	if _, err := q.cache.Invalidate(context.Background(), "members"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	release()
	settle(t, q)

	v := q.View()
	if len(v.Items) != 10 || !v.HasNextPage || v.Err != nil {
		t.Fatalf("view = %+v", v)
	}
	if got := cursors(d.scrollRequests()); !equalInts(got, []int{1, 1}) {
		t.Fatalf("cursors = %v", got)
	}
}

func TestScrollNextPageErrorThenRetry(t *testing.T) {
	d := newDataset(30)
	q := newTestScroll(t, d, ScrollOptions[string]{})
	settle(t, q)

	d.setFail("rate limited")
	nextPage(t, q)
	v := q.View()
	if v.Err == nil || len(v.Items) != 10 || !v.HasNextPage {
		t.Fatalf("after failed next page = %+v", v)
	}

	d.setFail("")
	nextPage(t, q)
	v = q.View()
	if v.Err != nil || len(v.Items) != 20 {
		t.Fatalf("after retry = %+v", v)
	}
}

func TestScrollFirstPageError(t *testing.T) {
	d := newDataset(30)
	d.setFail("down")
	q := newTestScroll(t, d, ScrollOptions[string]{})
	settle(t, q)

	v := q.View()
	if v.Err == nil || v.HasNextPage || v.Loading || len(v.Items) != 0 {
		t.Fatalf("view = %+v", v)
	}
	if q.FetchNextPage() {
		t.Fatal("next page after failed first page")
	}

	d.setFail("")
	q.Refetch()
	settle(t, q)
	if v := q.View(); v.Err != nil || len(v.Items) != 10 || !v.HasNextPage {
		t.Fatalf("after refetch = %+v", v)
	}
}

func TestScrollScopePartitionsLists(t *testing.T) {
	d := newDataset(10)
	reg := newTestRegistry(t, nil)
	pc := newTestCache[string](t, reg, CacheOptions[string]{})

	a, err := NewScrollQuery(pc, d.scroll, ScrollOptions[string]{Namespace: "members", Scope: []any{"team-a"}, SearchDelay: -1})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewScrollQuery(pc, d.scroll, ScrollOptions[string]{Namespace: "members", Scope: []any{"team-b"}, SearchDelay: -1})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if a.Key() == b.Key() {
		t.Fatal("scopes share a list")
	}
	if err := a.Settle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Settle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(d.scrollRequests()); n != 2 {
		t.Fatalf("requests = %d", n)
	}
}
