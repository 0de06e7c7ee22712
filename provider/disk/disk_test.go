package disk

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func newTestProvider(t *testing.T) (*Provider, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	p, err := New(Config{Dir: "/cache", Fs: fsys})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, fsys
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)
	if ok, err := p.Set(ctx, "e:resolve:1", []byte("payload"), 0, 0); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	b, ok, err := p.Get(ctx, "e:resolve:1")
	if err != nil || !ok || string(b) != "payload" {
		t.Fatalf("Get: %q ok=%v err=%v", b, ok, err)
	}
}

func TestGetMissing(t *testing.T) {
	p, _ := newTestProvider(t)
	if _, ok, err := p.Get(context.Background(), "nope"); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
}

func TestOverwriteAndDelete(t *testing.T) {
	ctx := context.Background()
	p, fsys := newTestProvider(t)
	_, _ = p.Set(ctx, "k", []byte("one"), 0, 0)
	_, _ = p.Set(ctx, "k", []byte("two"), 0, 0)
	if b, _, _ := p.Get(ctx, "k"); string(b) != "two" {
		t.Fatalf("overwrite lost: %q", b)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after delete")
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del of missing key: %v", err)
	}
	// No temp files left behind.
	_ = afero.Walk(fsys, "/cache", func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			t.Fatalf("leftover file %s", path)
		}
		return nil
	})
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)
	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }

	_, _ = p.Set(ctx, "k", []byte("v"), 0, time.Minute)
	if _, ok, _ := p.Get(ctx, "k"); !ok {
		t.Fatalf("expected hit before expiry")
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after expiry")
	}
}

// TestForeignFileIsMiss: a file at the hashed path whose header names a
// different key is not served.
func TestForeignFileIsMiss(t *testing.T) {
	ctx := context.Background()
	p, fsys := newTestProvider(t)
	_, _ = p.Set(ctx, "a", []byte("v"), 0, 0)
	raw, err := afero.ReadFile(fsys, p.path("a"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := afero.WriteFile(fsys, p.path("b"), raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "b"); ok {
		t.Fatalf("file for key a must not be served for b")
	}
	if err := afero.WriteFile(fsys, p.path("c"), []byte{1, 2}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok, err := p.Get(ctx, "c"); ok || err != nil {
		t.Fatalf("short file must be a miss, ok=%v err=%v", ok, err)
	}
}
