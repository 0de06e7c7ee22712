// Package asynchook moves hook delivery off the cache's hot paths.
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	bus, _ := tiercache.New[Result](tiercache.Options[Result]{Hooks: hooks})
//
// Events are dropped when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tiercache"
)

type Hooks struct {
	inner   tiercache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
	mu      sync.RWMutex // guards q against send-after-close
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed.Store(true)
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns the number of events lost to a full queue or after Close.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) TierError(tier string, p tiercache.Phase, err error) {
	h.try(func() { h.inner.TierError(tier, p, err) })
}
func (h *Hooks) Promoted(tier string)          { h.try(func() { h.inner.Promoted(tier) }) }
func (h *Hooks) Evicted(tier string, n int)    { h.try(func() { h.inner.Evicted(tier, n) }) }
func (h *Hooks) SelfHeal(k, r string)          { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) Invalidated(ns, r string)      { h.try(func() { h.inner.Invalidated(ns, r) }) }
func (h *Hooks) RestoreError(id string, err error) {
	h.try(func() { h.inner.RestoreError(id, err) })
}
func (h *Hooks) ProviderSetRejected(k string) { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) FlushCompleted(n int, took time.Duration) {
	h.try(func() { h.inner.FlushCompleted(n, took) })
}
func (h *Hooks) FlushFailed(err error) { h.try(func() { h.inner.FlushFailed(err) }) }
