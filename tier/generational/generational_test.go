package generational

import (
	"context"
	"fmt"
	"testing"

	"github.com/unkn0wn-root/tiercache"
)

type evictRecorder struct {
	tiercache.NopHooks
	evicted int
}

func (r *evictRecorder) Evicted(_ string, n int) { r.evicted += n }

func buildDone[V any](t *Tier[V], n int) {
	for i := 0; i < n; i++ {
		t.BuildDone(context.Background(), tiercache.BuildStats{})
	}
}

func kindOf[V any](t *testing.T, g *Tier[V], id string, etag tiercache.Etag) tiercache.Kind {
	t.Helper()
	res, _, err := g.Get(context.Background(), id, etag)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return res.Kind
}

// TestAgingUnusedEntry: with MaxGenerations=2 an entry that is never touched
// again is gone after three builds and still served after two.
func TestAgingUnusedEntry(t *testing.T) {
	ctx := context.Background()
	rec := &evictRecorder{}
	g := New[string](Options{MaxGenerations: 2, Hooks: rec})
	_ = g.Store(ctx, "a", "e", "A")

	buildDone(g, 2)
	// Probe without restoring: a mismatched etag answers from cooling but
	// leaves the entry there.
	if k := kindOf(t, g, "a", "other"); k != tiercache.Tombstone {
		t.Fatalf("expected definitive miss for wrong etag, got %v", k)
	}
	if hot, cool := g.Len(); hot != 1 || cool != 1 {
		t.Fatalf("after 2 builds: hot=%d cooling=%d", hot, cool)
	}

	buildDone(g, 1)
	if k := kindOf(t, g, "a", "e"); k != tiercache.Unknown {
		t.Fatalf("expected entry to be aged out, got %v", k)
	}
	if hot, cool := g.Len(); hot != 0 || cool != 0 {
		t.Fatalf("after purge: hot=%d cooling=%d", hot, cool)
	}
	if rec.evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", rec.evicted)
	}
}

// TestRestoredEntrySurvives: re-storing within the grace window keeps an
// entry alive indefinitely.
func TestRestoredEntrySurvives(t *testing.T) {
	ctx := context.Background()
	g := New[string](Options{MaxGenerations: 2})
	for i := 0; i < 20; i++ {
		_ = g.Store(ctx, "a", "e", fmt.Sprint("v", i))
		_ = g.Store(ctx, fmt.Sprint("noise", i), "", "x")
		buildDone(g, 1)
	}
	res, _, _ := g.Get(ctx, "a", "e")
	if res.Kind != tiercache.Hit || res.Value != "v19" {
		t.Fatalf("expected latest value, got %v %q", res.Kind, res.Value)
	}
}

// TestCoolingHitRestores: a read during the grace window moves the entry back
// to hot, so it survives as long as it keeps being used.
func TestCoolingHitRestores(t *testing.T) {
	ctx := context.Background()
	g := New[int](Options{MaxGenerations: 1})
	_ = g.Store(ctx, "a", "", 7)

	for i := 0; i < 10; i++ {
		buildDone(g, 1)
		res, _, _ := g.Get(ctx, "a", "")
		if res.Kind != tiercache.Hit || res.Value != 7 {
			t.Fatalf("build %d: expected hit, got %v", i, res.Kind)
		}
	}
	buildDone(g, 2)
	if k := kindOf(t, g, "a", ""); k != tiercache.Unknown {
		t.Fatalf("expected eviction after two unused builds, got %v", k)
	}
}

func TestStoreOverridesCoolingCopy(t *testing.T) {
	ctx := context.Background()
	g := New[string](Options{MaxGenerations: 1})
	_ = g.Store(ctx, "a", "e1", "old")
	buildDone(g, 1) // demoted

	_ = g.Store(ctx, "a", "e2", "new")
	if k := kindOf(t, g, "a", "e1"); k != tiercache.Tombstone {
		t.Fatalf("stale etag must miss, got %v", k)
	}
	res, _, _ := g.Get(ctx, "a", "e2")
	if res.Kind != tiercache.Hit || res.Value != "new" {
		t.Fatalf("fresh write must win, got %v %q", res.Kind, res.Value)
	}
	if _, cool := g.Len(); cool != 0 {
		t.Fatalf("cooling copy should be dropped, cooling=%d", cool)
	}
}

func TestPromotionDoesNotOverwriteStore(t *testing.T) {
	ctx := context.Background()
	g := New[string](Options{MaxGenerations: 2})

	_, p, _ := g.Get(ctx, "a", "e1")
	_ = g.Store(ctx, "a", "e2", "fresh")
	buildDone(g, 1) // demoted into cooling; the placeholder stays
	if err := p(ctx, tiercache.HitOf("stale")); err != nil {
		t.Fatalf("promote: %v", err)
	}
	res, _, _ := g.Get(ctx, "a", "e2")
	if res.Kind != tiercache.Hit || res.Value != "fresh" {
		t.Fatalf("stale promotion replaced a store: %v %q", res.Kind, res.Value)
	}
}

func TestTombstonesAgeToo(t *testing.T) {
	ctx := context.Background()
	g := New[string](Options{MaxGenerations: 1})
	_, p, _ := g.Get(ctx, "gone", "")
	if p == nil {
		t.Fatalf("expected promoter")
	}
	_ = p(ctx, tiercache.UnknownOf[string]())
	if k := kindOf(t, g, "gone", ""); k != tiercache.Tombstone {
		t.Fatalf("expected tombstone, got %v", k)
	}
	buildDone(g, 1)
	if k := kindOf(t, g, "gone", ""); k != tiercache.Tombstone {
		t.Fatalf("cooling tombstone should still answer, got %v", k)
	}
	buildDone(g, 2)
	if k := kindOf(t, g, "gone", ""); k != tiercache.Unknown {
		t.Fatalf("expected tombstone aged out, got %v", k)
	}
}

// TestDemotionIsAmortized: each build demotes ceil(n/maxGen) entries and the
// cursor walks the whole arena before wrapping.
func TestDemotionIsAmortized(t *testing.T) {
	ctx := context.Background()
	g := New[int](Options{MaxGenerations: 4})
	for i := 0; i < 10; i++ {
		_ = g.Store(ctx, fmt.Sprint("k", i), "", i)
	}
	buildDone(g, 1)
	if _, cool := g.Len(); cool != 3 {
		t.Fatalf("expected ceil(10/4)=3 demoted, got %d", cool)
	}
	buildDone(g, 1)
	if _, cool := g.Len(); cool != 6 {
		t.Fatalf("expected 6 cooling, got %d", cool)
	}
	// k0..k5 were taken first.
	for i := 0; i < 6; i++ {
		g.mu.Lock()
		st := g.slots[g.index[fmt.Sprint("k", i)]].state
		g.mu.Unlock()
		if st != placeholder {
			t.Fatalf("k%d: expected placeholder, got %d", i, st)
		}
	}
}

func TestFreedSlotsAreReused(t *testing.T) {
	ctx := context.Background()
	g := New[int](Options{MaxGenerations: 1})
	for i := 0; i < 4; i++ {
		_ = g.Store(ctx, fmt.Sprint("k", i), "", i)
	}
	buildDone(g, 2)
	if hot, _ := g.Len(); hot != 0 {
		t.Fatalf("expected all purged, hot=%d", hot)
	}
	for i := 0; i < 4; i++ {
		_ = g.Store(ctx, fmt.Sprint("n", i), "", i)
	}
	g.mu.Lock()
	size := len(g.slots)
	g.mu.Unlock()
	if size != 4 {
		t.Fatalf("arena grew to %d, expected reuse", size)
	}
}

func TestUnlimitedNeverEvicts(t *testing.T) {
	ctx := context.Background()
	g := New[int](Options{})
	_ = g.Store(ctx, "a", "", 1)
	buildDone(g, 100)
	if k := kindOf(t, g, "a", ""); k != tiercache.Hit {
		t.Fatalf("expected hit, got %v", k)
	}
	if g.Generation() != 100 {
		t.Fatalf("generation=%d", g.Generation())
	}
}
