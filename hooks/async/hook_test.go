package asynchook

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/pagequery"
)

type recHooks struct {
	pagequery.NopHooks
	mu     sync.Mutex
	events []string
	block  chan struct{}
}

func (r *recHooks) add(s string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recHooks) FetchStarted(k string, _ uint64) { r.add("start:" + k) }
func (r *recHooks) SelfHeal(k, reason string)       { r.add("heal:" + k + ":" + reason) }

func TestAsync_DeliversInOrderWithOneWorker(t *testing.T) {
	inner := &recHooks{}
	h := New(inner, 1, 16)
	h.FetchStarted("a", 1)
	h.SelfHeal("b", "corrupt")
	h.FetchStarted("c", 2)
	h.Close()

	want := []string{"start:a", "heal:b:corrupt", "start:c"}
	if len(inner.events) != len(want) {
		t.Fatalf("events=%v", inner.events)
	}
	for i := range want {
		if inner.events[i] != want[i] {
			t.Fatalf("events=%v want %v", inner.events, want)
		}
	}
}

func TestAsync_DropsWhenFull(t *testing.T) {
	inner := &recHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)

	// The worker blocks on the first event, the queue holds one more.
	for i := 0; i < 10; i++ {
		h.FetchStarted("k", uint64(i))
	}
	close(inner.block)
	h.Close()

	if h.Dropped() == 0 {
		t.Fatalf("expected drops")
	}
	if got := uint64(len(inner.events)) + h.Dropped(); got != 10 {
		t.Fatalf("delivered+dropped=%d want 10", got)
	}
}

func TestAsync_AfterCloseIsDropped(t *testing.T) {
	h := New(nil, 1, 1)
	h.Close()
	h.Close()
	h.CacheMiss("k")
	if h.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", h.Dropped())
	}
}
