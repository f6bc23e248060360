// Package redisbus relays invalidations between processes over Redis pub/sub.
//
// Only the key or prefix travels; cached pages never leave the process. Each
// process applies remote invalidations to its own registry exactly as a
// local Invalidate would, minus the re-publish.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/pagequery"
)

const DefaultChannel = "pagequery:invalidate"

// Message is the pub/sub payload.
type Message struct {
	Origin string `msgpack:"o"`
	Prefix string `msgpack:"p"`
	SentAt int64  `msgpack:"t"` // unix millis
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Options struct {
	Channel        string           // "" => DefaultChannel
	PublishTimeout time.Duration    // 0 => 2s
	Logger         pagequery.Logger // nil => NopLogger
}

// Bridge publishes every local invalidation of a bus and applies the ones
// other processes publish.
type Bridge struct {
	rdb     redis.UniversalClient
	pub     publisher
	bus     *pagequery.InvalidationBus
	id      string
	channel string
	timeout time.Duration
	log     pagequery.Logger

	mu     sync.Mutex
	ps     *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func New(rdb redis.UniversalClient, bus *pagequery.InvalidationBus, opts Options) *Bridge {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = pagequery.NopLogger{}
	}
	b := &Bridge{
		rdb:     rdb,
		bus:     bus,
		id:      uuid.NewString(),
		channel: opts.Channel,
		timeout: opts.PublishTimeout,
		log:     opts.Logger,
	}
	if rdb != nil {
		b.pub = rdb
	}
	return b
}

// ID is this process's origin id.
func (b *Bridge) ID() string { return b.id }

// Start subscribes and begins relaying. It returns once the subscription is
// confirmed by the server.
func (b *Bridge) Start(ctx context.Context) error {
	if b.rdb == nil {
		return errors.New("redisbus: redis client is required")
	}
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redisbus: subscribe %q: %w", b.channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.ps = ps
	b.cancel = cancel
	b.mu.Unlock()

	b.bus.Tap(b.onLocal)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for m := range ps.Channel() {
			if _, err := b.handle(runCtx, []byte(m.Payload)); err != nil {
				b.log.Warn("redisbus: dropped message", pagequery.Fields{"err": err})
			}
		}
	}()
	b.log.Info("redisbus: subscribed", pagequery.Fields{"channel": b.channel, "origin": b.id})
	return nil
}

// Close unsubscribes and stops relaying. Local invalidations after Close stay local.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ps, cancel := b.ps, b.cancel
	b.mu.Unlock()

	var err error
	if ps != nil {
		err = ps.Close()
	}
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	return err
}

func (b *Bridge) onLocal(r pagequery.Report) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed || b.pub == nil {
		return
	}
	if err := b.publish(r.Prefix); err != nil {
		b.log.Warn("redisbus: publish failed", pagequery.Fields{"prefix": r.Prefix, "err": err})
	}
}

func (b *Bridge) publish(prefix string) error {
	payload, err := Encode(Message{Origin: b.id, Prefix: prefix, SentAt: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	return b.pub.Publish(ctx, b.channel, payload).Err()
}

// handle applies one payload. Echoes of our own publishes are skipped.
func (b *Bridge) handle(ctx context.Context, payload []byte) (bool, error) {
	m, err := Decode(payload)
	if err != nil {
		return false, err
	}
	if m.Origin == b.id {
		return false, nil
	}
	if _, err := b.bus.Apply(ctx, m.Prefix); err != nil {
		return true, err
	}
	b.log.Debug("redisbus: applied remote invalidation", pagequery.Fields{"prefix": m.Prefix, "origin": m.Origin})
	return true, nil
}

func Encode(m Message) ([]byte, error) {
	return msgpack.Marshal(&m)
}

func Decode(b []byte) (Message, error) {
	var m Message
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("redisbus: decode: %w", err)
	}
	if m.Origin == "" {
		return Message{}, errors.New("redisbus: message without origin")
	}
	if err := uuid.Validate(m.Origin); err != nil {
		return Message{}, fmt.Errorf("redisbus: bad origin: %w", err)
	}
	return m, nil
}
