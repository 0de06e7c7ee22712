package promhook

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/unkn0wn-root/tiercache"
)

func TestCountersTrackEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h.TierError("idle", tiercache.PhaseGet, errors.New("io"))
	h.TierError("idle", tiercache.PhaseGet, errors.New("io"))
	h.Promoted("memory")
	h.Evicted("generational", 5)
	h.SelfHeal("e:resolve:x", "corrupt")
	h.Invalidated("resolve", "build_dependencies")
	h.FlushCompleted(12, 30*time.Millisecond)
	h.FlushFailed(errors.New("disk full"))

	if got := testutil.ToFloat64(h.tierErrors.WithLabelValues("idle", "get")); got != 2 {
		t.Fatalf("tier errors=%v", got)
	}
	if got := testutil.ToFloat64(h.evicted.WithLabelValues("generational")); got != 5 {
		t.Fatalf("evicted=%v", got)
	}
	if got := testutil.ToFloat64(h.flushTasks); got != 12 {
		t.Fatalf("flushed tasks=%v", got)
	}
	if got := testutil.ToFloat64(h.flushes.WithLabelValues("error")); got != 1 {
		t.Fatalf("failed flushes=%v", got)
	}
	if n := testutil.CollectAndCount(h.flushSeconds); n != 1 {
		t.Fatalf("histogram series=%d", n)
	}
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
