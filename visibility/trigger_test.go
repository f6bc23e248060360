package visibility

import (
	"sync/atomic"
	"testing"
)

func TestFiresOncePerAttachedItem(t *testing.T) {
	var n atomic.Int32
	tr := New(nil)
	tr.Attach("item-10", func() { n.Add(1) })

	if !tr.Reach("item-10") {
		t.Fatalf("first reach should fire")
	}
	if tr.Reach("item-10") {
		t.Fatalf("second reach on the same item must not fire")
	}
	tr.Attach("item-10", func() { n.Add(1) })
	if tr.Reach("item-10") {
		t.Fatalf("re-attaching the same item must not re-arm it")
	}

	tr.Attach("item-20", func() { n.Add(1) })
	if !tr.Reach("item-20") {
		t.Fatalf("new last item should fire")
	}
	if got := n.Load(); got != 2 {
		t.Fatalf("fired %d times, want 2", got)
	}
}

func TestStaleItemNeverFires(t *testing.T) {
	var n atomic.Int32
	tr := New(nil)
	tr.Attach("old", func() { n.Add(1) })
	tr.Attach("new", func() { n.Add(1) })

	if tr.Reach("old") {
		t.Fatalf("reach on an item that is no longer last fired")
	}
	if n.Load() != 0 {
		t.Fatalf("callback ran for stale item")
	}
}

func TestNotReadyDoesNotConsumeItem(t *testing.T) {
	var ready atomic.Bool
	var n atomic.Int32
	tr := New(ready.Load)
	tr.Attach("last", func() { n.Add(1) })

	if tr.Reach("last") {
		t.Fatalf("fired while not ready")
	}
	ready.Store(true)
	if !tr.Reach("last") {
		t.Fatalf("should fire once ready")
	}
	if n.Load() != 1 {
		t.Fatalf("fired %d times, want 1", n.Load())
	}
}

func TestDetach(t *testing.T) {
	tr := New(nil)
	tr.Attach("a", func() {})
	tr.Detach("b")
	if tr.Attached() != "a" {
		t.Fatalf("detaching a different id removed the attachment")
	}
	tr.Detach("a")
	if tr.Attached() != "" {
		t.Fatalf("expected no attachment")
	}
	if tr.Reach("a") {
		t.Fatalf("detached item fired")
	}
}
