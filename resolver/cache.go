// Package resolver memoizes module resolution through a tiercache Bus.
//
// A cached result is only returned after its snapshot has been re-validated,
// and concurrent lookups of one uncached request share a single computation.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/snapshot"
)

type Options struct {
	// Type distinguishes resolvers with different semantics ("normal",
	// "context", "loader"). Default "normal".
	Type string
	// Ident serializes the resolver's fixed options. Entries computed under
	// other options never match.
	Ident string
	// CacheWithContext keeps Request.Context in the cache key.
	CacheWithContext bool
	Snapshot         snapshot.Options
	Logger           tiercache.Logger
}

// Stats are the counters accumulated since the last ReportStats.
type Stats struct {
	Real          uint64 // computations performed
	CachedValid   uint64 // hits whose snapshot was valid
	CachedInvalid uint64 // hits discarded because the snapshot failed
	Coalesced     uint64 // callers that joined an in-flight lookup
}

// FromCache is the share of resolutions answered without computing, in percent.
func (s Stats) FromCache() float64 {
	total := s.Real + s.CachedValid + s.Coalesced
	if total == 0 {
		return 0
	}
	return 100 * float64(s.CachedValid+s.Coalesced) / float64(total)
}

type Cache struct {
	bus      tiercache.Bus[Entry]
	resolver Resolver
	snap     Snapshotter
	opts     Options
	log      tiercache.Logger
	now      func() time.Time

	flights singleflight.Group

	real, cachedValid, cachedInvalid, coalesced atomic.Uint64
}

func New(bus tiercache.Bus[Entry], r Resolver, snap Snapshotter, opts Options) (*Cache, error) {
	if bus == nil || r == nil || snap == nil {
		return nil, errors.New("resolver: bus, resolver and snapshotter are required")
	}
	if opts.Type == "" {
		opts.Type = "normal"
	}
	c := &Cache{bus: bus, resolver: r, snap: snap, opts: opts, log: opts.Logger, now: time.Now}
	if c.log == nil {
		c.log = tiercache.NopLogger{}
	}
	return c, nil
}

// identifier builds the cache key. encoding/json sorts map keys, so equal
// requests serialize identically.
func (c *Cache) identifier(req Request) (string, error) {
	if !c.opts.CacheWithContext {
		req.Context = nil
	}
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return "resolve/" + c.opts.Type + "|" + c.opts.Ident + "|" + string(b), nil
}

type outcome struct {
	res  Result
	deps *Deps
}

// Resolve answers req from the cache when its snapshot is still valid and
// computes it otherwise. Every dependency the answer relies on is merged
// into deps (which may be nil).
func (c *Cache) Resolve(ctx context.Context, req Request, deps *Deps) (Result, error) {
	id, err := c.identifier(req)
	if err != nil {
		return Result{}, fmt.Errorf("resolver: cache key: %w", err)
	}
	leader := false
	v, err, _ := c.flights.Do(id, func() (any, error) {
		leader = true
		return c.lookup(ctx, id, req)
	})
	if !leader {
		c.coalesced.Add(1)
	}
	if err != nil {
		return Result{}, err
	}
	o := v.(outcome)
	deps.Merge(o.deps)
	return o.res, nil
}

func (c *Cache) lookup(ctx context.Context, id string, req Request) (outcome, error) {
	e, ok, err := c.bus.Get(ctx, id, "")
	if err != nil {
		c.log.Debug("resolve cache lookup failed", tiercache.Fields{"id": id, "err": err})
	}
	if ok && e.Snapshot != nil {
		valid, err := c.snap.CheckSnapshotValid(ctx, e.Snapshot)
		if err == nil && valid {
			c.cachedValid.Add(1)
			return outcome{res: e.Result, deps: depsOf(e.Snapshot)}, nil
		}
		if err != nil {
			c.log.Debug("snapshot check failed", tiercache.Fields{"id": id, "err": err})
		}
		c.cachedInvalid.Add(1)
	}
	return c.compute(ctx, id, req)
}

func (c *Cache) compute(ctx context.Context, id string, req Request) (outcome, error) {
	c.real.Add(1)
	start := c.now()
	deps := NewDeps()
	res, err := c.resolver.Resolve(ctx, req, deps)
	if err != nil {
		return outcome{}, err
	}
	snap, err := c.snap.CreateSnapshot(ctx, start,
		deps.Files.Sorted(), deps.Contexts.Sorted(), deps.Missing.Sorted(), c.opts.Snapshot)
	if err != nil {
		c.log.Warn("snapshot failed; result not cached", tiercache.Fields{"id": id, "err": err})
		return outcome{res: res, deps: deps}, nil
	}
	if err := c.bus.Store(ctx, id, "", Entry{Result: res, Snapshot: snap}); err != nil {
		c.log.Debug("resolve cache store failed", tiercache.Fields{"id": id, "err": err})
	}
	return outcome{res: res, deps: deps}, nil
}

func (c *Cache) Stats() Stats {
	return Stats{
		Real:          c.real.Load(),
		CachedValid:   c.cachedValid.Load(),
		CachedInvalid: c.cachedInvalid.Load(),
		Coalesced:     c.coalesced.Load(),
	}
}

// ReportStats logs the counters of the finished build and resets them.
// Nothing is logged for a build without resolutions.
func (c *Cache) ReportStats() Stats {
	s := Stats{
		Real:          c.real.Swap(0),
		CachedValid:   c.cachedValid.Swap(0),
		CachedInvalid: c.cachedInvalid.Swap(0),
		Coalesced:     c.coalesced.Swap(0),
	}
	if s.Real+s.CachedValid+s.Coalesced == 0 {
		return s
	}
	c.log.Info("resolver cache", tiercache.Fields{
		"type":           c.opts.Type,
		"from_cache_pct": fmt.Sprintf("%.0f", s.FromCache()),
		"real":           s.Real,
		"cached_valid":   s.CachedValid,
		"cached_invalid": s.CachedInvalid,
		"coalesced":      s.Coalesced,
	})
	return s
}
