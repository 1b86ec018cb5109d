// Package sloghooks logs tiercache.Hooks events with log/slog. Frequent
// events are sampled and keys are redacted.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/local"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all. Hits are never logged.
	MissEvery     uint64
	EvictionEvery uint64
	SelfHealEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	missCtr     atomic.Uint64
	evictCtr    atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

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

func (h *Hooks) Hit(tiercache.Tier, string) {}

func (h *Hooks) Miss(tier tiercache.Tier, key string) {
	if h.l == nil || !sample(h.opts.MissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("tiercache.miss",
		"tier", tier.String(),
		"key", h.redact(key))
}

func (h *Hooks) LocalEvicted(key string, reason local.Reason) {
	if h.l == nil || !sample(h.opts.EvictionEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("tiercache.local_evicted",
		"key", h.redact(key),
		"reason", string(reason))
}

func (h *Hooks) LocalSetRejected(key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.local_set_rejected",
		"key", h.redact(key))
}

func (h *Hooks) BackendError(tier tiercache.Tier, op, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.backend_error",
		"tier", tier.String(),
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) SelfHeal(tier tiercache.Tier, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Info("tiercache.self_heal",
		"tier", tier.String(),
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) LocalCleared(epoch uint64) {
	if h.l == nil {
		return
	}
	h.l.Info("tiercache.local_cleared",
		"epoch", epoch)
}
