package tiercache

import (
	"context"
	"time"
)

// Conventional tier priorities. Lower runs first on Get.
const (
	PriorityMemory       = -10
	PriorityGenerational = -5
	PriorityDisk         = 10
	PriorityNetwork      = 20
)

// Promoter receives the final result of a lookup sequence. Tiers that had no
// answer hand one to the Bus so they can populate themselves from a slower tier.
type Promoter[V any] func(ctx context.Context, final Lookup[V]) error

// Tier is one cache backend registered with the Bus.
//
// Get returns a settled Lookup (Hit or Tombstone) to stop the sequence, or an
// Unknown Lookup to defer to slower tiers, optionally together with a Promoter.
// A tier must never return a value stored under a different etag.
type Tier[V any] interface {
	Name() string
	Priority() int
	Get(ctx context.Context, id string, etag Etag) (Lookup[V], Promoter[V], error)
	Store(ctx context.Context, id string, etag Etag, data V) error
	// Shutdown flushes everything the tier still holds and releases resources.
	Shutdown(ctx context.Context) error
}

// DependencyStorer is implemented by tiers that persist the build dependencies
// the cache content was derived from.
type DependencyStorer interface {
	StoreBuildDependencies(ctx context.Context, deps []string) error
}

// IdleObserver is implemented by tiers that do background work between builds.
// BeginIdle is signalled when a build finished and nothing else is running;
// EndIdle when a new build starts.
type IdleObserver interface {
	BeginIdle()
	EndIdle()
}

// BuildObserver is implemented by tiers that age or schedule by build.
type BuildObserver interface {
	BuildDone(ctx context.Context, stats BuildStats)
}

// BuildStats describes one completed build.
type BuildStats struct {
	Start time.Time
	End   time.Time
}

func (s BuildStats) Duration() time.Duration {
	if s.End.Before(s.Start) {
		return 0
	}
	return s.End.Sub(s.Start)
}
