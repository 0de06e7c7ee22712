package idle

import (
	"context"

	"github.com/unkn0wn-root/tiercache"
)

// Strategy is the durable storage behind the idle tier. Calls may block on
// I/O; the tier only invokes them outside of a build (or on Get/Shutdown).
type Strategy[V any] interface {
	Store(ctx context.Context, id string, etag tiercache.Etag, data V) error
	// Restore returns ok=false when nothing usable is stored for (id, etag).
	Restore(ctx context.Context, id string, etag tiercache.Etag) (v V, ok bool, err error)
	StoreBuildDependencies(ctx context.Context, deps []string) error
	// AfterAllStored runs once the pending queue has been drained.
	AfterAllStored(ctx context.Context) error
}

// Clearer is implemented by strategies that hold resources to release on
// Shutdown, after the final flush.
type Clearer interface {
	Clear() error
}
