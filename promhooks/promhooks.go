// Package promhooks exports pagequery hook events as Prometheus counters.
package promhooks

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unkn0wn-root/pagequery"
)

// Hooks counts events. Keys are never used as labels.
type Hooks struct {
	lookups       *prometheus.CounterVec
	fetches       prometheus.Counter
	fetchFailures prometheus.Counter
	staleDropped  prometheus.Counter
	evictions     *prometheus.CounterVec
	spillRejected prometheus.Counter
	selfHeals     *prometheus.CounterVec
	invalidations prometheus.Counter
	invalidated   prometheus.Counter
	refetches     prometheus.Counter
}

var _ pagequery.Hooks = (*Hooks)(nil)

// New registers the counters on reg (prometheus.DefaultRegisterer if nil)
// under namespace ("pagequery" if empty).
func New(reg prometheus.Registerer, namespace string) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "pagequery"
	}
	f := promauto.With(reg)

	return &Hooks{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result",
		}, []string{"result"}), // hit, miss
		fetches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Network fetches issued",
		}),
		fetchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Fetches that resolved to an error entry",
		}),
		staleDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_dropped_total",
			Help:      "Responses discarded because a newer generation was issued",
		}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Entries evicted from the in-memory LRU",
		}, []string{"spilled"}),
		spillRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spill_rejected_total",
			Help:      "Spill writes refused by the provider",
		}),
		selfHeals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spill_self_heals_total",
			Help:      "Spilled entries deleted on read",
		}, []string{"reason"}),
		invalidations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Invalidation calls",
		}),
		invalidated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidated_keys_total",
			Help:      "Cached keys matched by invalidations",
		}),
		refetches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidation_refetches_total",
			Help:      "Subscriber refetches forced by invalidations",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (h *Hooks) CacheHit(string)                     { h.lookups.WithLabelValues("hit").Inc() }
func (h *Hooks) CacheMiss(string)                    { h.lookups.WithLabelValues("miss").Inc() }
func (h *Hooks) FetchStarted(string, uint64)         { h.fetches.Inc() }
func (h *Hooks) FetchFailed(string, error)           { h.fetchFailures.Inc() }
func (h *Hooks) StaleDropped(string, uint64, uint64) { h.staleDropped.Inc() }
func (h *Hooks) SpillRejected(string)                { h.spillRejected.Inc() }
func (h *Hooks) SelfHeal(_, reason string)           { h.selfHeals.WithLabelValues(reason).Inc() }

func (h *Hooks) Evicted(_ string, spilled bool) {
	h.evictions.WithLabelValues(strconv.FormatBool(spilled)).Inc()
}

func (h *Hooks) Invalidated(_ string, matched, refetched int) {
	h.invalidations.Inc()
	h.invalidated.Add(float64(matched))
	h.refetches.Add(float64(refetched))
}
