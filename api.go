package pagequery

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/unkn0wn-root/pagequery"

// Options tune a Registry. All fields are optional.
type Options struct {
	Logger             Logger               // if nil, NopLogger is used
	Hooks              Hooks                // if nil, NopHooks is used
	TracerProvider     trace.TracerProvider // if nil, spans are not recorded
	GenCleanupInterval time.Duration        // 0 => 1h
	GenRetention       time.Duration        // 0 => 30d
}

// Registry is the process-wide owner of page caches and the invalidation bus.
// Create one with NewRegistry, pass it to every cache, and Dispose it when done.
// Fetches run in the registry's lifetime context; Dispose cancels it.
type Registry struct {
	ctx    context.Context
	cancel context.CancelFunc

	log    Logger
	hooks  Hooks
	tracer trace.Tracer

	genCleanup   time.Duration
	genRetention time.Duration

	bus *InvalidationBus

	mu       sync.Mutex
	caches   []cacheHandle
	disposed bool
	flights  sync.WaitGroup
}

// cacheHandle is the registry's view of a PageCache, independent of T.
type cacheHandle interface {
	invalidate(ctx context.Context, prefix string, active func(string) bool) (int, error)
	close(ctx context.Context) error
}

func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = NopLogger{}
	}
	if opts.Hooks == nil {
		opts.Hooks = NopHooks{}
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = noop.NewTracerProvider()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		ctx:          ctx,
		cancel:       cancel,
		log:          opts.Logger,
		hooks:        opts.Hooks,
		tracer:       opts.TracerProvider.Tracer(tracerName),
		genCleanup:   coalesce(opts.GenCleanupInterval, time.Hour),
		genRetention: coalesce(opts.GenRetention, 30*24*time.Hour),
	}
	r.bus = newInvalidationBus(r)
	return r
}

// Bus returns the registry's invalidation bus.
func (r *Registry) Bus() *InvalidationBus { return r.bus }

// Invalidate marks every cached key matching keyOrPrefix stale and forces
// active subscribers to refetch. See InvalidationBus.Invalidate.
func (r *Registry) Invalidate(ctx context.Context, keyOrPrefix string) (Report, error) {
	return r.bus.Invalidate(ctx, keyOrPrefix)
}

// Disposed reports whether Dispose was called.
func (r *Registry) Disposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

// Dispose cancels in-flight fetches, waits for them to unwind (bounded by
// ctx) and closes every cache. Safe to call more than once.
func (r *Registry) Dispose(ctx context.Context) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	caches := r.caches
	r.caches = nil
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.flights.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	for _, c := range caches {
		if err := c.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.log.Debug("registry disposed", Fields{"caches": len(caches)})
	return errors.Join(errs...)
}

func (r *Registry) register(c cacheHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return ErrDisposed
	}
	r.caches = append(r.caches, c)
	return nil
}

func (r *Registry) handles() []cacheHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]cacheHandle, len(r.caches))
	copy(out, r.caches)
	return out
}

// startFlight accounts for a fetch goroutine; false once disposed.
func (r *Registry) startFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return false
	}
	r.flights.Add(1)
	return true
}
