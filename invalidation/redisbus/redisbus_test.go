package redisbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/pagequery"
)

type fakePub struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakePub) Publish(_ context.Context, _ string, message any) *redis.IntCmd {
	b, _ := message.([]byte)
	m, err := Decode(b)
	if err == nil {
		f.mu.Lock()
		f.sent = append(f.sent, m)
		f.mu.Unlock()
	}
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	return redis.NewIntResult(1, nil)
}

func newBridge(t *testing.T) (*Bridge, *pagequery.Registry, *atomic.Int32) {
	t.Helper()
	reg := pagequery.NewRegistry(pagequery.Options{})
	t.Cleanup(func() { _ = reg.Dispose(context.Background()) })

	var refetched atomic.Int32
	cancel := reg.Bus().Subscribe(func() string { return "users:abc" }, func() { refetched.Add(1) })
	t.Cleanup(cancel)

	return New(nil, reg.Bus(), Options{}), reg, &refetched
}

func TestHandle_AppliesRemoteInvalidation(t *testing.T) {
	b, _, refetched := newBridge(t)

	other := New(nil, b.bus, Options{})
	payload, err := Encode(Message{Origin: other.ID(), Prefix: "users"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	applied, err := b.handle(context.Background(), payload)
	if err != nil || !applied {
		t.Fatalf("handle: applied=%v err=%v", applied, err)
	}
	if got := refetched.Load(); got != 1 {
		t.Fatalf("refetched=%d want 1", got)
	}
}

func TestHandle_IgnoresOwnEcho(t *testing.T) {
	b, _, refetched := newBridge(t)

	payload, _ := Encode(Message{Origin: b.ID(), Prefix: "users"})
	applied, err := b.handle(context.Background(), payload)
	if err != nil || applied {
		t.Fatalf("echo: applied=%v err=%v", applied, err)
	}
	if refetched.Load() != 0 {
		t.Fatalf("echo must not refetch")
	}
}

func TestHandle_RejectsGarbage(t *testing.T) {
	b, _, _ := newBridge(t)

	if _, err := b.handle(context.Background(), []byte{0xc1}); err == nil {
		t.Fatalf("expected decode error")
	}
	noOrigin, _ := msgpack.Marshal(&Message{Prefix: "users"})
	if _, err := b.handle(context.Background(), noOrigin); err == nil {
		t.Fatalf("expected missing-origin error")
	}
	badOrigin, _ := msgpack.Marshal(&Message{Origin: "nope", Prefix: "users"})
	if _, err := b.handle(context.Background(), badOrigin); err == nil {
		t.Fatalf("expected bad-origin error")
	}
}

func TestLocalInvalidation_IsPublishedOnce(t *testing.T) {
	b, reg, _ := newBridge(t)
	pub := &fakePub{}
	b.pub = pub
	reg.Bus().Tap(b.onLocal)

	if _, err := reg.Invalidate(context.Background(), "users"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	// Remote applies go through Apply, which does not tap.
	other := New(nil, reg.Bus(), Options{})
	payload, _ := Encode(Message{Origin: other.ID(), Prefix: "orders"})
	if _, err := b.handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.sent) != 1 {
		t.Fatalf("published=%d want 1", len(pub.sent))
	}
	if m := pub.sent[0]; m.Prefix != "users" || m.Origin != b.ID() || m.SentAt == 0 {
		t.Fatalf("message=%+v", m)
	}
}

func TestPublishFailure_IsLoggedNotReturned(t *testing.T) {
	b, reg, _ := newBridge(t)
	b.pub = &fakePub{err: errors.New("down")}
	reg.Bus().Tap(b.onLocal)

	if _, err := reg.Invalidate(context.Background(), "users"); err != nil {
		t.Fatalf("local invalidate must not fail on publish errors: %v", err)
	}
}

func TestStart_RequiresClient(t *testing.T) {
	b, _, _ := newBridge(t)
	if err := b.Start(context.Background()); err == nil {
		t.Fatalf("expected error without client")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
