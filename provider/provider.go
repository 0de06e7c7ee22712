// Package provider defines the byte stores persistent cache strategies sit on.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation). If a store performs internal transforms
// (e.g., an expiry header or compression), they MUST be fully reversed so that the
// bytes returned by Get are identical to the bytes provided to Set.
//
// Important: keys under the "e:<ns>:" and "m:<ns>:" prefixes are owned by the
// kv strategy. External code MUST NOT write values under these prefixes. Foreign
// writes may be treated as corruption by strict record validation and deleted.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrNilClient is returned by adapters constructed without their backing client.
var ErrNilClient = errors.New("provider: nil client")

// Provider is a minimal byte store with TTLs.
// Must be safe for concurrent use and must be byte-for-byte transparent.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (<= 0 means no expiry). May ignore
	// cost if unsupported. Returns ok=false when the store rejected the write
	// under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Syncer is implemented by providers that buffer writes. Sync returns once
// every accepted Set is visible to Get (and durable, where that applies).
type Syncer interface {
	Sync(ctx context.Context) error
}
