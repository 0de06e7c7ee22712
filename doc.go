// Package tiercache implements a multi-tier artifact cache for incremental builds.
// Expensive computations (module resolution, analysis results, generated code)
// are memoized across builds, validated by an etag supplied by the caller, and
// persisted without blocking the build loop.
//
// Components:
//   - Bus: dispatcher every tier registers with. Lookups run fastest-first and the
//     first settled answer wins; stores fan out to all tiers concurrently.
//   - Tier: one cache backend with a numeric priority (see tier/memory,
//     tier/generational and tier/idle).
//   - Promoter: callback a tier without an answer hands to the Bus so it can
//     self-populate from the final result of the lookup.
//
// Lookups return a tagged Lookup value:
//
//	Hit        value found for (id, etag)
//	Tombstone  confirmed absent, stop asking slower tiers
//	Unknown    no opinion, ask the next tier
//
// Typical client flow:
//
//	v, ok, err := bus.Get(ctx, id, etag)
//	if err != nil || !ok {
//		v = compute()
//		_ = bus.Store(ctx, id, etag, v)
//	}
//
// The cache is strictly best-effort: any miss or error means "recompute".
package tiercache
