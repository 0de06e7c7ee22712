// Package promhook exports tiercache hook events as Prometheus metrics.
package promhook

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tiercache"
)

var _ tiercache.Hooks = (*Hooks)(nil)

type Hooks struct {
	tierErrors    *prometheus.CounterVec
	promoted      *prometheus.CounterVec
	evicted       *prometheus.CounterVec
	selfHeals     *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	restoreErrors prometheus.Counter
	setRejected   prometheus.Counter
	flushes       *prometheus.CounterVec
	flushTasks    prometheus.Counter
	flushSeconds  prometheus.Histogram
}

// New registers the collectors on reg. Pass a registerer wrapped with
// prometheus.WrapRegistererWithPrefix to namespace them.
func New(reg prometheus.Registerer) (*Hooks, error) {
	h := &Hooks{
		tierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_tier_errors_total",
			Help: "Tier operations that failed, by tier and phase.",
		}, []string{"tier", "phase"}),
		promoted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_promotions_total",
			Help: "Final lookup results handed to a tier promoter.",
		}, []string{"tier"}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries dropped by generational aging.",
		}, []string{"tier"}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_self_heals_total",
			Help: "Persisted records deleted on read.",
		}, []string{"reason"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Persistent namespace generation bumps.",
		}, []string{"reason"}),
		restoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_restore_errors_total",
			Help: "Durable restores that failed and were treated as cold.",
		}),
		setRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_provider_set_rejected_total",
			Help: "Provider writes refused without an error.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_idle_flushes_total",
			Help: "Idle flushes by outcome.",
		}, []string{"result"}),
		flushTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_idle_flushed_tasks_total",
			Help: "Pending tasks written by completed idle flushes.",
		}),
		flushSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_idle_flush_duration_seconds",
			Help:    "Wall time of completed idle flushes.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	for _, c := range []prometheus.Collector{
		h.tierErrors, h.promoted, h.evicted, h.selfHeals, h.invalidations,
		h.restoreErrors, h.setRejected, h.flushes, h.flushTasks, h.flushSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) TierError(tier string, phase tiercache.Phase, _ error) {
	h.tierErrors.WithLabelValues(tier, string(phase)).Inc()
}

func (h *Hooks) Promoted(tier string) { h.promoted.WithLabelValues(tier).Inc() }

func (h *Hooks) Evicted(tier string, count int) {
	h.evicted.WithLabelValues(tier).Add(float64(count))
}

// SelfHeal drops the storage key; it is unbounded and unsuitable as a label.
func (h *Hooks) SelfHeal(_, reason string) { h.selfHeals.WithLabelValues(reason).Inc() }

func (h *Hooks) Invalidated(_, reason string) { h.invalidations.WithLabelValues(reason).Inc() }

func (h *Hooks) RestoreError(string, error) { h.restoreErrors.Inc() }

func (h *Hooks) ProviderSetRejected(string) { h.setRejected.Inc() }

func (h *Hooks) FlushCompleted(tasks int, took time.Duration) {
	h.flushes.WithLabelValues("ok").Inc()
	h.flushTasks.Add(float64(tasks))
	h.flushSeconds.Observe(took.Seconds())
}

func (h *Hooks) FlushFailed(error) { h.flushes.WithLabelValues("error").Inc() }
