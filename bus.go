package tiercache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

type bus[V any] struct {
	log     Logger
	hooks   Hooks
	enabled bool

	mu     sync.RWMutex
	tiers  []Tier[V] // sorted by priority, stable
	closed atomic.Bool
}

func newBus[V any](opts Options[V]) *bus[V] {
	b := &bus[V]{
		log:     coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:   coalesce[Hooks](opts.Hooks, NopHooks{}),
		enabled: !opts.Disabled,
	}
	for _, t := range opts.Tiers {
		b.Register(t)
	}
	return b
}

func (b *bus[V]) Enabled() bool { return b.enabled }

func (b *bus[V]) Register(t Tier[V]) {
	if t == nil {
		return
	}
	b.mu.Lock()
	b.tiers = append(b.tiers, t)
	sort.SliceStable(b.tiers, func(i, j int) bool {
		return b.tiers[i].Priority() < b.tiers[j].Priority()
	})
	b.mu.Unlock()
	b.log.Debug("tier registered", Fields{"tier": t.Name(), "priority": t.Priority()})
}

func (b *bus[V]) snapshot() []Tier[V] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Tier[V], len(b.tiers))
	copy(out, b.tiers)
	return out
}

func (b *bus[V]) Get(ctx context.Context, id string, etag Etag) (V, bool, error) {
	res, err := b.Lookup(ctx, id, etag)
	if err != nil || !res.Found() {
		var zero V
		return zero, false, err
	}
	return res.Value, true, nil
}

func (b *bus[V]) Lookup(ctx context.Context, id string, etag Etag) (Lookup[V], error) {
	if b.closed.Load() {
		return UnknownOf[V](), ErrClosed
	}
	if !b.enabled {
		return UnknownOf[V](), nil
	}
	final, promos, err := lookupSequence(ctx, b.snapshot(), id, etag)
	if err != nil {
		b.report(err)
		return UnknownOf[V](), err
	}
	if err := settle(ctx, final, promos); err != nil {
		b.report(err)
		return UnknownOf[V](), err
	}
	if final.Found() {
		for _, p := range promos {
			b.hooks.Promoted(p.tier)
		}
	}
	return final, nil
}

func (b *bus[V]) Store(ctx context.Context, id string, etag Etag, data V) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if !b.enabled {
		return nil
	}
	tiers := b.snapshot()
	err := fanOut(len(tiers), func(i int) error {
		return hookErr(PhaseStore, tiers[i].Name(), tiers[i].Store(ctx, id, etag, data))
	})
	if err != nil {
		b.report(err)
	}
	return err
}

func (b *bus[V]) StoreBuildDependencies(ctx context.Context, deps []string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if !b.enabled {
		return nil
	}
	var storers []Tier[V]
	for _, t := range b.snapshot() {
		if _, ok := t.(DependencyStorer); ok {
			storers = append(storers, t)
		}
	}
	err := fanOut(len(storers), func(i int) error {
		t := storers[i]
		return hookErr(PhaseStoreBuildDependencies, t.Name(), t.(DependencyStorer).StoreBuildDependencies(ctx, deps))
	})
	if err != nil {
		b.report(err)
	}
	return err
}

func (b *bus[V]) BeginIdle() {
	if b.closed.Load() {
		return
	}
	for _, t := range b.snapshot() {
		if o, ok := t.(IdleObserver); ok {
			o.BeginIdle()
		}
	}
}

func (b *bus[V]) EndIdle() {
	if b.closed.Load() {
		return
	}
	for _, t := range b.snapshot() {
		if o, ok := t.(IdleObserver); ok {
			o.EndIdle()
		}
	}
}

func (b *bus[V]) BuildDone(ctx context.Context, stats BuildStats) {
	if b.closed.Load() {
		return
	}
	for _, t := range b.snapshot() {
		if o, ok := t.(BuildObserver); ok {
			o.BuildDone(ctx, stats)
		}
	}
}

// Shutdown signals every tier concurrently and waits for all of them. Unlike
// Store it does not stop at the first failure: every error is reported.
func (b *bus[V]) Shutdown(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	tiers := b.snapshot()
	errs := make([]error, len(tiers))
	var wg sync.WaitGroup
	for i, t := range tiers {
		wg.Add(1)
		go func(i int, t Tier[V]) {
			defer wg.Done()
			errs[i] = hookErr(PhaseShutdown, t.Name(), t.Shutdown(ctx))
		}(i, t)
	}
	wg.Wait()
	err := multierr.Combine(errs...)
	if err != nil {
		b.log.Error("cache shutdown failed", Fields{"err": err})
	}
	return err
}

func (b *bus[V]) report(err error) {
	he, ok := err.(*HookError)
	if !ok {
		b.log.Warn("cache operation failed", Fields{"err": err})
		return
	}
	b.hooks.TierError(he.Tier, he.Phase, he.Err)
	b.log.Warn("cache tier failed", Fields{"tier": he.Tier, "phase": string(he.Phase), "err": he.Err})
}
