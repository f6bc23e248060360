package pagequery

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; they run on fetch and
// cache hot paths, sometimes while the cache lock is held.
type Hooks interface {
	// A lookup found an entry (fresh or not) or found nothing.
	CacheHit(key string)
	CacheMiss(key string)

	// A network fetch was issued under gen.
	FetchStarted(key string, gen uint64)
	// A fetch resolved with an error entry (transport, application or pagination).
	FetchFailed(key string, err error)
	// A response arrived for a superseded generation and was discarded.
	StaleDropped(key string, gen, current uint64)

	// An entry left the LRU; spilled reports whether it went to the spill tier.
	Evicted(key string, spilled bool)
	// The spill provider refused a write (backpressure/eviction).
	SpillRejected(key string)
	// A spilled entry was deleted on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(key, reason string)

	// An invalidation matched keys and forced refetches on subscribers.
	Invalidated(prefix string, matched, refetched int)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) CacheHit(string)                     {}
func (NopHooks) CacheMiss(string)                    {}
func (NopHooks) FetchStarted(string, uint64)         {}
func (NopHooks) FetchFailed(string, error)           {}
func (NopHooks) StaleDropped(string, uint64, uint64) {}
func (NopHooks) Evicted(string, bool)                {}
func (NopHooks) SpillRejected(string)                {}
func (NopHooks) SelfHeal(string, string)             {}
func (NopHooks) Invalidated(string, int, int)        {}
