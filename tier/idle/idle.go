// Package idle is a persistent tier that keeps writes off the build path.
//
// Store only records a pending task per identifier (last write wins). The
// queue is drained through the Strategy once the build is idle, in small
// time-boxed batches, and completely on Shutdown.
package idle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/unkn0wn-root/tiercache"
)

const (
	defaultIdleTimeout                  = 60 * time.Second
	defaultIdleTimeoutForInitialStore   = 5 * time.Second
	defaultIdleTimeoutAfterLargeChanges = 1 * time.Second
	defaultBatchSize                    = 100
	defaultBatchTime                    = 100 * time.Millisecond
	defaultLargeChangeRatio             = 2.0
)

// depsKey queues the build dependency write next to regular entries. It can
// not collide with an identifier produced by a client key builder.
const depsKey = "\x00build-dependencies"

type Options struct {
	Name     string // default "idle"
	Priority int    // default tiercache.PriorityDisk

	IdleTimeout                  time.Duration // default 60s
	IdleTimeoutForInitialStore   time.Duration // default 5s; used until the first drain succeeds
	IdleTimeoutAfterLargeChanges time.Duration // default 1s
	BatchSize                    int           // default 100 tasks per tick
	BatchTime                    time.Duration // default 100ms per tick
	// LargeChangeRatio flags a large change when the decayed build time
	// exceeds ratio * average drain time. Default 2.
	LargeChangeRatio float64

	Logger tiercache.Logger // if nil, NopLogger is used
	Hooks  tiercache.Hooks  // if nil, NopHooks is used
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "idle"
	}
	if o.Priority == 0 {
		o.Priority = tiercache.PriorityDisk
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.IdleTimeoutForInitialStore <= 0 {
		o.IdleTimeoutForInitialStore = defaultIdleTimeoutForInitialStore
	}
	if o.IdleTimeoutAfterLargeChanges <= 0 {
		o.IdleTimeoutAfterLargeChanges = defaultIdleTimeoutAfterLargeChanges
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.BatchTime <= 0 {
		o.BatchTime = defaultBatchTime
	}
	if o.LargeChangeRatio <= 0 {
		o.LargeChangeRatio = defaultLargeChangeRatio
	}
	if o.Logger == nil {
		o.Logger = tiercache.NopLogger{}
	}
	if o.Hooks == nil {
		o.Hooks = tiercache.NopHooks{}
	}
	return o
}

type task func(ctx context.Context) error

type Tier[V any] struct {
	opts     Options
	strategy Strategy[V]
	log      tiercache.Logger
	hooks    tiercache.Hooks

	mu      sync.Mutex
	pending map[string]task
	order   []string // insertion order; may hold ids already taken
	timer   *time.Timer
	idle    bool
	closed  bool
	dirty   bool // tasks ran since the last AfterAllStored
	sched   *scheduler

	drainStart   time.Time
	drainTasks   int
	drainBatches int
	drainErr     error
	lastErr      error

	// inflight counts pending tasks taken by Get and still running. It is
	// incremented under mu so Shutdown can wait for every task it did not
	// collect itself.
	inflight sync.WaitGroup

	// flushMu is held while a batch runs; Shutdown takes it to wait for the
	// batch in flight.
	flushMu sync.Mutex
}

var (
	_ tiercache.Tier[struct{}]   = (*Tier[struct{}])(nil)
	_ tiercache.IdleObserver     = (*Tier[struct{}])(nil)
	_ tiercache.BuildObserver    = (*Tier[struct{}])(nil)
	_ tiercache.DependencyStorer = (*Tier[struct{}])(nil)
)

func New[V any](strategy Strategy[V], opts Options) *Tier[V] {
	opts = opts.withDefaults()
	return &Tier[V]{
		opts:     opts,
		strategy: strategy,
		log:      opts.Logger,
		hooks:    opts.Hooks,
		pending:  make(map[string]task),
		sched:    newScheduler(opts.LargeChangeRatio),
	}
}

func (t *Tier[V]) Name() string  { return t.opts.Name }
func (t *Tier[V]) Priority() int { return t.opts.Priority }

// Get runs a pending write for id first, so a Get right after a Store sees
// it, then restores from the Strategy. Restore failures are treated as a cold
// key. On a miss the returned promoter queues whatever a slower source finds.
func (t *Tier[V]) Get(ctx context.Context, id string, etag tiercache.Etag) (tiercache.Lookup[V], tiercache.Promoter[V], error) {
	t.mu.Lock()
	run, ok := t.take(id)
	if ok {
		t.dirty = true
		t.inflight.Add(1)
	}
	t.mu.Unlock()
	if ok {
		err := run(ctx)
		t.inflight.Done()
		if err != nil {
			return tiercache.UnknownOf[V](), nil, err
		}
	}

	v, found, err := t.strategy.Restore(ctx, id, etag)
	if err != nil {
		t.hooks.RestoreError(id, err)
		t.log.Warn("restore failed; treating as cold", tiercache.Fields{"tier": t.opts.Name, "id": id, "err": err})
		found = false
	}
	if found {
		return tiercache.HitOf(v), nil, nil
	}
	return tiercache.UnknownOf[V](), func(_ context.Context, final tiercache.Lookup[V]) error {
		if final.Found() {
			return t.enqueue(id, t.storeTask(id, etag, final.Value))
		}
		return nil
	}, nil
}

// Store queues the write. An unflushed earlier write for id is discarded.
func (t *Tier[V]) Store(_ context.Context, id string, etag tiercache.Etag, data V) error {
	return t.enqueue(id, t.storeTask(id, etag, data))
}

func (t *Tier[V]) StoreBuildDependencies(_ context.Context, deps []string) error {
	deps = append([]string(nil), deps...)
	return t.enqueue(depsKey, func(ctx context.Context) error {
		return t.strategy.StoreBuildDependencies(ctx, deps)
	})
}

func (t *Tier[V]) storeTask(id string, etag tiercache.Etag, data V) task {
	return func(ctx context.Context) error {
		return t.strategy.Store(ctx, id, etag, data)
	}
}

func (t *Tier[V]) enqueue(id string, fn task) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return tiercache.ErrClosed
	}
	if _, ok := t.pending[id]; !ok {
		t.order = append(t.order, id)
	}
	t.pending[id] = fn
	return nil
}

// take removes the pending task for id. Caller holds mu.
func (t *Tier[V]) take(id string) (task, bool) {
	fn, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return fn, ok
}

// next pops the oldest pending task. Caller holds mu.
func (t *Tier[V]) next() (task, bool) {
	for len(t.order) > 0 {
		id := t.order[0]
		t.order[0] = ""
		t.order = t.order[1:]
		if fn, ok := t.take(id); ok {
			return fn, true
		}
	}
	t.order = nil
	return nil, false
}

// Pending returns the number of queued writes.
func (t *Tier[V]) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// LastFlushError returns the error of the most recent idle drain, if any.
func (t *Tier[V]) LastFlushError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// BuildDone feeds the build duration into the large-change estimate.
func (t *Tier[V]) BuildDone(_ context.Context, stats tiercache.BuildStats) {
	t.mu.Lock()
	t.sched.observeBuild(stats.Duration())
	t.mu.Unlock()
}

// BeginIdle arms the flush timer.
func (t *Tier[V]) BeginIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.idle = true
	d := t.sched.delay(t.opts)
	t.arm(d)
	t.log.Debug("idle flush scheduled", tiercache.Fields{"tier": t.opts.Name, "in": d.String(), "pending": len(t.pending)})
}

// EndIdle cancels a scheduled flush. A batch already running completes.
func (t *Tier[V]) EndIdle() {
	t.mu.Lock()
	t.idle = false
	t.disarm()
	t.mu.Unlock()
}

// arm replaces the timer. Caller holds mu.
func (t *Tier[V]) arm(d time.Duration) {
	t.disarm()
	t.timer = time.AfterFunc(d, t.tick)
}

// disarm stops the timer. Caller holds mu.
func (t *Tier[V]) disarm() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// tick runs one batch: at most BatchSize tasks or BatchTime of work. It
// re-arms itself with a zero delay while tasks remain and finishes the drain
// otherwise.
func (t *Tier[V]) tick() {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	ctx := context.Background()
	start := time.Now()

	t.mu.Lock()
	if !t.idle || t.closed {
		t.mu.Unlock()
		return
	}
	if t.drainStart.IsZero() {
		t.drainStart = start
	}
	t.mu.Unlock()

	var errs error
	n := 0
	for n < t.opts.BatchSize && time.Since(start) <= t.opts.BatchTime {
		t.mu.Lock()
		fn, ok := t.next()
		if ok {
			t.dirty = true
		}
		t.mu.Unlock()
		if !ok {
			break
		}
		errs = multierr.Append(errs, fn(ctx))
		n++
	}

	t.mu.Lock()
	t.sched.observeBatch(time.Since(start))
	t.drainTasks += n
	t.drainBatches++
	t.drainErr = multierr.Append(t.drainErr, errs)
	if !t.idle || t.closed {
		t.mu.Unlock()
		return
	}
	if len(t.pending) > 0 {
		t.arm(0)
		t.mu.Unlock()
		return
	}
	dirty := t.dirty
	t.dirty = false
	t.mu.Unlock()

	afterStart := time.Now()
	var afterErr error
	if dirty {
		afterErr = t.strategy.AfterAllStored(ctx)
	}

	t.mu.Lock()
	t.sched.observeBatch(time.Since(afterStart))
	err := multierr.Append(t.drainErr, afterErr)
	tasks, batches, took := t.drainTasks, t.drainBatches, time.Since(t.drainStart)
	t.sched.drained(err == nil)
	t.lastErr = err
	t.drainErr, t.drainTasks, t.drainBatches, t.drainStart = nil, 0, 0, time.Time{}
	t.mu.Unlock()

	if err != nil {
		t.log.Warn("idle flush failed", tiercache.Fields{"tier": t.opts.Name, "tasks": tasks, "batches": batches, "err": err})
		t.hooks.FlushFailed(err)
		return
	}
	t.log.Debug("idle flush completed", tiercache.Fields{"tier": t.opts.Name, "tasks": tasks, "batches": batches, "took": took.String()})
	t.hooks.FlushCompleted(tasks, took)
}

// Shutdown cancels the timer, waits for a batch in flight and for pending
// tasks a concurrent Get is running, then runs every remaining task,
// AfterAllStored and Clear. Every failure is returned.
func (t *Tier[V]) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.idle = false
	t.disarm()
	t.mu.Unlock()

	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	var tasks []task
	for {
		fn, ok := t.next()
		if !ok {
			break
		}
		tasks = append(tasks, fn)
	}
	pendingErr := t.drainErr
	t.drainErr = nil
	t.mu.Unlock()

	start := time.Now()
	var errs error
	for _, fn := range tasks {
		errs = multierr.Append(errs, fn(ctx))
	}
	t.inflight.Wait()
	errs = multierr.Append(errs, t.strategy.AfterAllStored(ctx))
	if c, ok := t.strategy.(Clearer); ok {
		errs = multierr.Append(errs, c.Clear())
	}
	// Failures of an unfinished idle drain were never reported elsewhere.
	errs = multierr.Append(pendingErr, errs)

	fields := tiercache.Fields{"tier": t.opts.Name, "tasks": len(tasks), "took": time.Since(start).String()}
	if errs != nil {
		fields["err"] = errs
		t.log.Error("final flush failed", fields)
		return errs
	}
	t.log.Info("final flush completed", fields)
	return nil
}
