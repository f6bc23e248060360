// Package sloghooks logs pagequery hook events to a *slog.Logger.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/pagequery"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery  uint64
	StaleDropEvery uint64
	// Log cache hits and misses at debug level. Off by default; they fire on
	// every lookup.
	LogLookups bool
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr  atomic.Uint64
	staleDropCtr atomic.Uint64
}

var _ pagequery.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CacheHit(key string) {
	if h.l == nil || !h.opts.LogLookups {
		return
	}
	h.l.Debug("pagequery.cache_hit", "key", h.redact(key))
}

func (h *Hooks) CacheMiss(key string) {
	if h.l == nil || !h.opts.LogLookups {
		return
	}
	h.l.Debug("pagequery.cache_miss", "key", h.redact(key))
}

func (h *Hooks) FetchStarted(key string, gen uint64) {
	if h.l == nil {
		return
	}
	h.l.Debug("pagequery.fetch_started",
		"key", h.redact(key),
		"gen", gen)
}

func (h *Hooks) FetchFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("pagequery.fetch_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) StaleDropped(key string, gen, current uint64) {
	if h.l == nil || !sample(h.opts.StaleDropEvery, &h.staleDropCtr) {
		return
	}
	h.l.Debug("pagequery.stale_dropped",
		"key", h.redact(key),
		"gen", gen,
		"current", current)
}

func (h *Hooks) Evicted(key string, spilled bool) {
	if h.l == nil {
		return
	}
	h.l.Debug("pagequery.evicted",
		"key", h.redact(key),
		"spilled", spilled)
}

func (h *Hooks) SpillRejected(key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("pagequery.spill_rejected", "key", h.redact(key))
}

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("pagequery.self_heal",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) Invalidated(prefix string, matched, refetched int) {
	if h.l == nil {
		return
	}
	h.l.Info("pagequery.invalidated",
		"prefix", h.redact(prefix),
		"matched", matched,
		"refetched", refetched)
}
