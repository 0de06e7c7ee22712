package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/snapshot"
	"github.com/unkn0wn-root/tiercache/tier/memory"
)

// countingTier counts writes reaching a memory tier.
type countingTier struct {
	*memory.Tier[Entry]
	stores atomic.Int32
}

func (t *countingTier) Store(ctx context.Context, id string, etag tiercache.Etag, e Entry) error {
	t.stores.Add(1)
	return t.Tier.Store(ctx, id, etag, e)
}

type fakeResolver struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *fakeResolver) Resolve(_ context.Context, req Request, deps *Deps) (Result, error) {
	r.calls.Add(1)
	if r.started != nil {
		r.once.Do(func() { close(r.started) })
	}
	if r.release != nil {
		<-r.release
	}
	deps.Files.Add(req.Path + "/" + req.Request + ".js")
	deps.Missing.Add(req.Path + "/" + req.Request)
	return Result{Path: req.Path + "/" + req.Request + ".js", Found: true}, nil
}

type fakeSnapshots struct {
	invalid atomic.Bool
	created atomic.Int32
}

func (s *fakeSnapshots) CreateSnapshot(_ context.Context, start time.Time, files, contexts, missing []string, _ snapshot.Options) (*snapshot.Snapshot, error) {
	s.created.Add(1)
	snap := &snapshot.Snapshot{StartTime: start.UnixNano(), Files: map[string]snapshot.Stamp{}, Missing: missing}
	for _, f := range files {
		snap.Files[f] = snapshot.Stamp{Exists: true}
	}
	return snap, nil
}

func (s *fakeSnapshots) CheckSnapshotValid(context.Context, *snapshot.Snapshot) (bool, error) {
	return !s.invalid.Load(), nil
}

func newCache(t *testing.T, r Resolver, snap Snapshotter, opts Options) (*Cache, *countingTier) {
	t.Helper()
	tier := &countingTier{Tier: memory.New[Entry](memory.Options{})}
	bus, err := tiercache.New(tiercache.Options[Entry]{Tiers: []tiercache.Tier[Entry]{tier}})
	require.NoError(t, err)
	c, err := New(bus, r, snap, opts)
	require.NoError(t, err)
	return c, tier
}

func TestConcurrentLookupsComputeOnce(t *testing.T) {
	r := &fakeResolver{started: make(chan struct{}), release: make(chan struct{})}
	c, tier := newCache(t, r, &fakeSnapshots{}, Options{})
	req := Request{Path: "/src", Request: "./util"}

	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Resolve(context.Background(), req, nil)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	<-r.started
	time.Sleep(50 * time.Millisecond)
	close(r.release)
	wg.Wait()

	assert.EqualValues(t, 1, r.calls.Load(), "real computations")
	assert.EqualValues(t, 1, tier.stores.Load(), "cache writes")
	for _, res := range results {
		assert.Equal(t, "/src/./util.js", res.Path)
	}
	s := c.Stats()
	assert.EqualValues(t, 1, s.Real)
	assert.EqualValues(t, 4, s.Coalesced+s.CachedValid)
}

func TestInvalidSnapshotRecomputesAndOverwrites(t *testing.T) {
	ctx := context.Background()
	r := &fakeResolver{}
	snaps := &fakeSnapshots{}
	c, tier := newCache(t, r, snaps, Options{})
	clock := time.Unix(100, 0)
	c.now = func() time.Time { return clock }
	req := Request{Path: "/src", Request: "dep"}

	_, err := c.Resolve(ctx, req, nil)
	require.NoError(t, err)
	_, err = c.Resolve(ctx, req, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.calls.Load(), "valid snapshot must be served from cache")

	snaps.invalid.Store(true)
	clock = time.Unix(200, 0)
	_, err = c.Resolve(ctx, req, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 2, r.calls.Load())
	assert.EqualValues(t, 2, tier.stores.Load())
	s := c.Stats()
	assert.EqualValues(t, 1, s.CachedInvalid)
	assert.EqualValues(t, 1, s.CachedValid)

	id, err := c.identifier(req)
	require.NoError(t, err)
	got, _, err := tier.Get(ctx, id, "")
	require.NoError(t, err)
	require.Equal(t, tiercache.Hit, got.Kind)
	assert.Equal(t, clock.UnixNano(), got.Value.Snapshot.StartTime, "entry must carry the fresh snapshot")
}

func TestDepsReachTheCaller(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t, &fakeResolver{}, &fakeSnapshots{}, Options{})
	req := Request{Path: "/src", Request: "dep"}

	computed := NewDeps()
	_, err := c.Resolve(ctx, req, computed)
	require.NoError(t, err)
	assert.True(t, computed.Files.Has("/src/dep.js"))
	assert.True(t, computed.Missing.Has("/src/dep"))

	cached := NewDeps()
	_, err = c.Resolve(ctx, req, cached)
	require.NoError(t, err)
	assert.Equal(t, computed.Files.Sorted(), cached.Files.Sorted())
	assert.Equal(t, computed.Missing.Sorted(), cached.Missing.Sorted())
}

func TestCacheWithContext(t *testing.T) {
	ctx := context.Background()
	a := Request{Path: "/src", Request: "dep", Context: map[string]string{"issuer": "/src/a.js"}}
	b := Request{Path: "/src", Request: "dep", Context: map[string]string{"issuer": "/src/b.js"}}

	r := &fakeResolver{}
	c, _ := newCache(t, r, &fakeSnapshots{}, Options{})
	_, _ = c.Resolve(ctx, a, nil)
	_, _ = c.Resolve(ctx, b, nil)
	assert.EqualValues(t, 1, r.calls.Load(), "context ignored by default")

	r = &fakeResolver{}
	c, _ = newCache(t, r, &fakeSnapshots{}, Options{CacheWithContext: true})
	_, _ = c.Resolve(ctx, a, nil)
	_, _ = c.Resolve(ctx, b, nil)
	assert.EqualValues(t, 2, r.calls.Load())
}

func TestReportStatsResets(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t, &fakeResolver{}, &fakeSnapshots{}, Options{})
	req := Request{Path: "/", Request: "x"}
	for i := 0; i < 4; i++ {
		_, err := c.Resolve(ctx, req, nil)
		require.NoError(t, err)
	}
	s := c.ReportStats()
	assert.EqualValues(t, 1, s.Real)
	assert.EqualValues(t, 3, s.CachedValid)
	assert.InDelta(t, 75.0, s.FromCache(), 0.01)
	assert.Equal(t, Stats{}, c.Stats())
}
