package build

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/unkn0wn-root/tiercache"
)

const defaultDebounce = 200 * time.Millisecond

type WatchOptions struct {
	Debounce time.Duration // default 200ms
	Logger   tiercache.Logger
	// OnBuild receives the outcome of every build, the first one included.
	OnBuild func(*Result, error)
}

// Watch runs a build, then rebuilds whenever a watched directory changes,
// until ctx ends. Bursts of events within Debounce collapse into one build.
// It needs the loop to run on the OS filesystem.
func Watch(ctx context.Context, l *Loop, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = tiercache.NopLogger{}
	}
	onBuild := opts.OnBuild
	if onBuild == nil {
		onBuild = func(*Result, error) {}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	watched := make(map[string]bool)
	build := func() {
		res, err := l.Run(ctx)
		onBuild(res, err)
		if err != nil {
			log.Warn("build failed", tiercache.Fields{"err": err})
			return
		}
		for _, dir := range res.WatchList() {
			if watched[dir] {
				continue
			}
			if err := w.Add(dir); err != nil {
				log.Debug("watch skipped", tiercache.Fields{"dir": dir, "err": err})
				continue
			}
			watched[dir] = true
		}
	}

	events := make(chan string)
	go func() {
		for {
			select {
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Chmod) && !e.Has(fsnotify.Write) {
					continue
				}
				select {
				case events <- e.Name:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("watcher error", tiercache.Fields{"err": err})
			case <-ctx.Done():
				return
			}
		}
	}()

	build()
	debounce(ctx, events, opts.Debounce, func(changed []string) {
		log.Info("change detected", tiercache.Fields{"files": len(changed), "first": changed[0]})
		build()
	})
	return nil
}

// debounce calls fn with the distinct names received since the last call
// once no new name arrived for d. It returns when ctx ends.
func debounce(ctx context.Context, in <-chan string, d time.Duration, fn func([]string)) {
	timer := time.NewTimer(d)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var pending []string
	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-in:
			if !seen[name] {
				seen[name] = true
				pending = append(pending, name)
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := pending
			pending = nil
			seen = make(map[string]bool)
			fn(batch)
		}
	}
}
