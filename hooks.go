package tiercache

import "time"

// Hooks lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking.
// The bus and the tiers call them on hot paths.
type Hooks interface {
	// A tier failed a lookup; the caller sees a cache error and recomputes.
	TierError(tier string, phase Phase, err error)

	// A value found in a slower tier was handed to a faster tier's promoter.
	Promoted(tier string)

	// Entries dropped by an eviction pass (generational aging).
	Evicted(tier string, count int)

	// A persisted record was deleted on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// A persistent namespace was invalidated (generation bumped).
	// reason ∈ {"build_dependencies", "explicit"}
	Invalidated(ns, reason string)

	// A durable restore failed; the key is treated as cold.
	RestoreError(id string, err error)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// An idle flush drained the pending queue.
	FlushCompleted(tasks int, took time.Duration)

	// One or more pending writes of an idle flush failed.
	FlushFailed(err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) TierError(string, Phase, error)    {}
func (NopHooks) Promoted(string)                   {}
func (NopHooks) Evicted(string, int)               {}
func (NopHooks) SelfHeal(string, string)           {}
func (NopHooks) Invalidated(string, string)        {}
func (NopHooks) RestoreError(string, error)        {}
func (NopHooks) ProviderSetRejected(string)        {}
func (NopHooks) FlushCompleted(int, time.Duration) {}
func (NopHooks) FlushFailed(error)                 {}
