package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/internal/util"
	"github.com/unkn0wn-root/tiercache/provider/disk"
)

type recHooks struct {
	tiercache.NopHooks
	mu          sync.Mutex
	heals       []string
	invalidated []string
	rejected    int
}

func (h *recHooks) SelfHeal(_, reason string) {
	h.mu.Lock()
	h.heals = append(h.heals, reason)
	h.mu.Unlock()
}

func (h *recHooks) Invalidated(_, reason string) {
	h.mu.Lock()
	h.invalidated = append(h.invalidated, reason)
	h.mu.Unlock()
}

func (h *recHooks) ProviderSetRejected(string) {
	h.mu.Lock()
	h.rejected++
	h.mu.Unlock()
}

// fakeFingerprint returns whatever the test last put in it.
type fakeFingerprint struct {
	mu  sync.Mutex
	v   uint64
	err error
}

func (f *fakeFingerprint) fn(context.Context, []string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v, f.err
}

func newStrategy(t *testing.T, fsys afero.Fs, fp *fakeFingerprint, h *recHooks) *Strategy[string] {
	t.Helper()
	p, err := disk.New(disk.Config{Dir: "/cache", Fs: fsys})
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	opts := Options[string]{
		Namespace: "resolve",
		Provider:  p,
		Codec:     codec.JSON[string]{},
		Hooks:     h,
	}
	if fp != nil {
		opts.Fingerprint = fp.fn
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStoreRestore(t *testing.T) {
	ctx := context.Background()
	s := newStrategy(t, afero.NewMemMapFs(), nil, &recHooks{})

	if err := s.Store(ctx, "a", "e1", "value"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	v, ok, err := s.Restore(ctx, "a", "e1")
	if err != nil || !ok || v != "value" {
		t.Fatalf("Restore: %q ok=%v err=%v", v, ok, err)
	}
	if _, ok, _ := s.Restore(ctx, "a", "e2"); ok {
		t.Fatalf("etag mismatch must miss")
	}
	if _, ok, _ := s.Restore(ctx, "b", ""); ok {
		t.Fatalf("unknown id must miss")
	}
}

func TestSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	s := newStrategy(t, fsys, nil, &recHooks{})
	_ = s.Store(ctx, "a", "", "persisted")
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	s2 := newStrategy(t, fsys, nil, &recHooks{})
	if inv, err := s2.Open(ctx); err != nil || inv {
		t.Fatalf("Open: invalidated=%v err=%v", inv, err)
	}
	if v, ok, _ := s2.Restore(ctx, "a", ""); !ok || v != "persisted" {
		t.Fatalf("value lost across reopen: %q ok=%v", v, ok)
	}
}

func TestCorruptRecordSelfHeals(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	h := &recHooks{}
	s := newStrategy(t, fsys, nil, h)
	_, _ = s.provider.Set(ctx, util.EntryKey("resolve", "a"), []byte("garbage"), 1, 0)

	if _, ok, err := s.Restore(ctx, "a", ""); ok || err != nil {
		t.Fatalf("corrupt record must miss, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.provider.Get(ctx, util.EntryKey("resolve", "a")); ok {
		t.Fatalf("corrupt record not deleted")
	}
	if len(h.heals) != 1 || h.heals[0] != ReasonCorrupt {
		t.Fatalf("heals=%v", h.heals)
	}
}

func TestValueDecodeSelfHeals(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	_ = newStrategy(t, fsys, nil, &recHooks{}).Store(ctx, "a", "", "not a number")

	// Same namespace, read back as int.
	p, _ := disk.New(disk.Config{Dir: "/cache", Fs: fsys})
	h := &recHooks{}
	s, err := New(Options[int]{Namespace: "resolve", Provider: p, Codec: codec.JSON[int]{}, Hooks: h})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok, err := s.Restore(ctx, "a", ""); ok || err != nil {
		t.Fatalf("undecodable value must miss, ok=%v err=%v", ok, err)
	}
	if len(h.heals) != 1 || h.heals[0] != ReasonValueDecode {
		t.Fatalf("heals=%v", h.heals)
	}
	if _, ok, _ := p.Get(ctx, util.EntryKey("resolve", "a")); ok {
		t.Fatalf("record should have been deleted")
	}
}

func TestInvalidateDropsEverything(t *testing.T) {
	ctx := context.Background()
	h := &recHooks{}
	s := newStrategy(t, afero.NewMemMapFs(), nil, h)
	_ = s.Store(ctx, "a", "", "1")
	_ = s.Store(ctx, "b", "", "2")

	if err := s.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, ok, _ := s.Restore(ctx, id, ""); ok {
			t.Fatalf("%s survived invalidation", id)
		}
	}
	if len(h.heals) != 2 || h.heals[0] != ReasonGenMismatch {
		t.Fatalf("heals=%v", h.heals)
	}
	if len(h.invalidated) != 1 || h.invalidated[0] != ReasonExplicit {
		t.Fatalf("invalidated=%v", h.invalidated)
	}

	// New writes land in the new generation.
	_ = s.Store(ctx, "a", "", "3")
	if v, ok, _ := s.Restore(ctx, "a", ""); !ok || v != "3" {
		t.Fatalf("write after invalidation lost")
	}
}

func TestOpenDetectsChangedBuildDependencies(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	fp := &fakeFingerprint{v: 1}
	s := newStrategy(t, fsys, fp, &recHooks{})
	_ = s.Store(ctx, "a", "", "old")
	if err := s.StoreBuildDependencies(ctx, []string{"/package.json", "/package.json", "/tsconfig.json"}); err != nil {
		t.Fatalf("StoreBuildDependencies: %v", err)
	}

	// Unchanged: nothing happens.
	h := &recHooks{}
	s2 := newStrategy(t, fsys, fp, h)
	if inv, err := s2.Open(ctx); err != nil || inv {
		t.Fatalf("Open unchanged: inv=%v err=%v", inv, err)
	}
	if _, ok, _ := s2.Restore(ctx, "a", ""); !ok {
		t.Fatalf("entry lost without a change")
	}

	fp.mu.Lock()
	fp.v = 2
	fp.mu.Unlock()
	s3 := newStrategy(t, fsys, fp, h)
	if inv, err := s3.Open(ctx); err != nil || !inv {
		t.Fatalf("Open changed: inv=%v err=%v", inv, err)
	}
	if _, ok, _ := s3.Restore(ctx, "a", ""); ok {
		t.Fatalf("entry must be invalidated after a dependency change")
	}
	if len(h.invalidated) != 1 || h.invalidated[0] != ReasonBuildDependencies {
		t.Fatalf("invalidated=%v", h.invalidated)
	}
}

func TestOpenFingerprintErrorInvalidates(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	fp := &fakeFingerprint{v: 7}
	s := newStrategy(t, fsys, fp, &recHooks{})
	_ = s.StoreBuildDependencies(ctx, []string{"/a"})

	fp.err = errors.New("permission denied")
	if inv, err := newStrategy(t, fsys, fp, &recHooks{}).Open(ctx); err != nil || !inv {
		t.Fatalf("inv=%v err=%v", inv, err)
	}
}

// rejecting refuses every write.
type rejecting struct{}

func (rejecting) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (rejecting) Set(context.Context, string, []byte, int64, time.Duration) (bool, error) {
	return false, nil
}
func (rejecting) Del(context.Context, string) error { return nil }
func (rejecting) Close(context.Context) error       { return nil }

func TestRejectedWriteIsReported(t *testing.T) {
	h := &recHooks{}
	s, err := New(Options[string]{Namespace: "ns", Provider: rejecting{}, Codec: codec.String{}, Hooks: h})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Store(context.Background(), "a", "", "x"); err != nil {
		t.Fatalf("rejection is not an error: %v", err)
	}
	if h.rejected != 1 {
		t.Fatalf("rejected=%d", h.rejected)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options[string]{Codec: codec.String{}, Namespace: "x"}); err == nil {
		t.Fatalf("expected provider error")
	}
	if _, err := New(Options[string]{Provider: rejecting{}, Namespace: "x"}); err == nil {
		t.Fatalf("expected codec error")
	}
	if _, err := New(Options[string]{Provider: rejecting{}, Codec: codec.String{}}); err == nil {
		t.Fatalf("expected namespace error")
	}
}
