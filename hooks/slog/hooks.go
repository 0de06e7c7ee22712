// Package sloghook logs cache events with log/slog.
package sloghook

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tiercache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	PromoteEvery  uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	promoteCtr  atomic.Uint64
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

func (h *Hooks) TierError(tier string, phase tiercache.Phase, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.tier_error",
		"tier", tier,
		"phase", string(phase),
		"err", err)
}

func (h *Hooks) Promoted(tier string) {
	if h.l == nil || !sample(h.opts.PromoteEvery, &h.promoteCtr) {
		return
	}
	h.l.Debug("tiercache.promoted", "tier", tier)
}

func (h *Hooks) Evicted(tier string, count int) {
	if h.l == nil {
		return
	}
	h.l.Debug("tiercache.evicted",
		"tier", tier,
		"count", count)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("tiercache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) Invalidated(ns, reason string) {
	if h.l == nil {
		return
	}
	h.l.Info("tiercache.invalidated",
		"ns", ns,
		"reason", reason)
}

func (h *Hooks) RestoreError(id string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.restore_error",
		"id", h.redact(id),
		"err", err)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) FlushCompleted(tasks int, took time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Debug("tiercache.flush_completed",
		"tasks", tasks,
		"took", took)
}

func (h *Hooks) FlushFailed(err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tiercache.flush_failed", "err", err)
}
