// Package genstore keeps namespace generations. Persistent records carry the
// generation they were written under; bumping it invalidates a whole
// namespace in O(1), and stale records self-heal on read.
package genstore

import "context"

// GenStore abstracts where generations live.
// Use Local for in-process providers, Stored to keep the generation next to
// persisted records, or Redis to share it between processes.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, ns string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, ns string) (uint64, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
