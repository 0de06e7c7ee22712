package tiercache

import (
	"context"
)

// Bus is the cache dispatcher clients talk to. V is the cached value type.
// All methods are safe for concurrent use.
type Bus[V any] interface {
	Enabled() bool

	// Register adds a tier. Tiers are consulted in ascending Priority order;
	// equal priorities keep registration order.
	Register(t Tier[V])

	// Get asks every tier fastest-first. ok=false is a miss (unknown or tombstone).
	Get(ctx context.Context, id string, etag Etag) (v V, ok bool, err error)
	// Lookup is Get with the tagged result.
	Lookup(ctx context.Context, id string, etag Etag) (Lookup[V], error)
	// Store writes to every tier concurrently.
	Store(ctx context.Context, id string, etag Etag, data V) error
	StoreBuildDependencies(ctx context.Context, deps []string) error

	// Lifecycle signals.
	BeginIdle()
	EndIdle()
	BuildDone(ctx context.Context, stats BuildStats)

	// Shutdown flushes and releases every tier. The bus is unusable afterwards.
	Shutdown(ctx context.Context) error
}

// Options configure a Bus. Everything is optional; tiers may also be added
// later with Register.
type Options[V any] struct {
	Tiers    []Tier[V]
	Logger   Logger // if nil, NopLogger is used
	Hooks    Hooks  // if nil, NopHooks is used
	Disabled bool   // default false (enabled); a disabled bus always misses and drops stores
}

func New[V any](opts Options[V]) (Bus[V], error) {
	return newBus[V](opts), nil
}

// Provide returns the cached value for (id, etag) or computes, stores and
// returns it. Cache failures degrade to a compute; store failures are ignored.
func Provide[V any](ctx context.Context, b Bus[V], id string, etag Etag, compute func(context.Context) (V, error)) (V, error) {
	if v, ok, err := b.Get(ctx, id, etag); err == nil && ok {
		return v, nil
	}
	v, err := compute(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	_ = b.Store(ctx, id, etag, v)
	return v, nil
}
