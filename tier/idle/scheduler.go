package idle

import "time"

// scheduler owns the timing estimates that pick the idle delay. It is not
// safe for concurrent use; the tier guards it with its mutex.
type scheduler struct {
	ratio float64

	buildTime    time.Duration // decayed sum of recent build durations
	storeTime    time.Duration // time spent in the current drain
	avgStoreTime time.Duration // smoothed drain duration
	stored       bool          // a drain completed successfully at least once
}

func newScheduler(ratio float64) *scheduler {
	return &scheduler{ratio: ratio}
}

func (s *scheduler) observeBuild(d time.Duration) {
	s.buildTime = time.Duration(float64(s.buildTime)*0.9) + d
}

func (s *scheduler) observeBatch(d time.Duration) {
	s.storeTime += d
}

// largeChange reports whether recent builds took long compared to how long
// persisting usually takes, a sign of a broad invalidation.
func (s *scheduler) largeChange() bool {
	return float64(s.buildTime) > s.ratio*float64(s.avgStoreTime)
}

func (s *scheduler) delay(o Options) time.Duration {
	d := o.IdleTimeout
	if !s.stored && o.IdleTimeoutForInitialStore < d {
		d = o.IdleTimeoutForInitialStore
	}
	if s.largeChange() && o.IdleTimeoutAfterLargeChanges < d {
		d = o.IdleTimeoutAfterLargeChanges
	}
	return d
}

// drained folds the finished drain into the average and starts a new
// measurement window.
func (s *scheduler) drained(ok bool) {
	s.avgStoreTime = time.Duration(float64(max(s.avgStoreTime, s.storeTime))*0.9 + float64(s.storeTime)*0.1)
	s.storeTime = 0
	s.buildTime = 0
	if ok {
		s.stored = true
	}
}
