// Package build drives builds over a module graph: it walks the imports of
// the entry modules, resolves them through the resolver cache and signals
// the cache lifecycle around each build.
package build

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/resolver"
)

const defaultParallelism = 8

var importRe = regexp.MustCompile(`(?m)(?:\bimport\s*(?:[\w*{}\s,$]+?\s*from\s*)?|\bexport\s*[\w*{}\s,$]+?\s*from\s*|\brequire\s*\(\s*|\bimport\s*\(\s*)["']([^"'\n]+)["']`)

// scannable extensions; anything else is a leaf.
var scannable = map[string]bool{".js": true, ".mjs": true, ".cjs": true, ".jsx": true, ".ts": true, ".tsx": true}

type Config struct {
	Fs       afero.Fs // default afero.NewOsFs()
	Root     string   // required; entries are relative to it
	Entries  []string // required
	Bus      tiercache.Bus[resolver.Entry]
	Resolver *resolver.Cache
	// BuildDependencies are the files the cache content depends on as a
	// whole (config files, lockfiles). Changing one invalidates the
	// persistent cache on the next start.
	BuildDependencies []string
	Parallelism       int // default 8
	Logger            tiercache.Logger
}

type Loop struct {
	fs        afero.Fs
	root      string
	entries   []string
	bus       tiercache.Bus[resolver.Entry]
	resolve   *resolver.Cache
	buildDeps []string
	parallel  int
	log       tiercache.Logger
	now       func() time.Time
}

// Unresolved is an import that resolved to nothing.
type Unresolved struct {
	From    string
	Request string
}

type Result struct {
	Modules    map[string][]string // module -> resolved imports, in source order
	Unresolved []Unresolved
	Deps       *resolver.Deps // everything the build depended on
	Stats      resolver.Stats
	Duration   time.Duration
}

func New(cfg Config) (*Loop, error) {
	if cfg.Root == "" || len(cfg.Entries) == 0 {
		return nil, errors.New("build: root and entries are required")
	}
	if cfg.Bus == nil || cfg.Resolver == nil {
		return nil, errors.New("build: bus and resolver are required")
	}
	l := &Loop{
		fs:        cfg.Fs,
		root:      path.Clean(cfg.Root),
		entries:   cfg.Entries,
		bus:       cfg.Bus,
		resolve:   cfg.Resolver,
		buildDeps: cfg.BuildDependencies,
		parallel:  cfg.Parallelism,
		log:       cfg.Logger,
		now:       time.Now,
	}
	if l.fs == nil {
		l.fs = afero.NewOsFs()
	}
	if l.parallel <= 0 {
		l.parallel = defaultParallelism
	}
	if l.log == nil {
		l.log = tiercache.NopLogger{}
	}
	return l, nil
}

func (l *Loop) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(l.root, p)
}

// Run performs one build. The bus leaves idle mode for its duration and
// re-enters it afterwards, also when the build fails.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	l.bus.EndIdle()
	defer l.bus.BeginIdle()

	start := l.now()
	res := &Result{Modules: make(map[string][]string), Deps: resolver.NewDeps()}

	queue := make([]string, 0, len(l.entries))
	seen := make(map[string]bool, len(l.entries))
	for _, e := range l.entries {
		p := l.abs(e)
		if !seen[p] {
			seen[p] = true
			queue = append(queue, p)
		}
	}
	for len(queue) > 0 {
		mod := queue[0]
		queue = queue[1:]
		imports, err := l.module(ctx, mod, res)
		if err != nil {
			return nil, err
		}
		for _, p := range imports {
			if !seen[p] && scannable[path.Ext(p)] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	end := l.now()
	res.Duration = end.Sub(start)

	l.bus.BuildDone(ctx, tiercache.BuildStats{Start: start, End: end})
	res.Stats = l.resolve.ReportStats()
	if len(l.buildDeps) > 0 {
		deps := make([]string, len(l.buildDeps))
		for i, p := range l.buildDeps {
			deps[i] = l.abs(p)
		}
		if err := l.bus.StoreBuildDependencies(ctx, deps); err != nil {
			l.log.Warn("storing build dependencies failed", tiercache.Fields{"err": err})
		}
	}
	l.log.Info("build finished", tiercache.Fields{
		"modules":    len(res.Modules),
		"unresolved": len(res.Unresolved),
		"took":       res.Duration.String(),
	})
	return res, nil
}

// module reads one module and resolves its imports concurrently.
func (l *Loop) module(ctx context.Context, mod string, res *Result) ([]string, error) {
	src, err := afero.ReadFile(l.fs, mod)
	if err != nil {
		return nil, fmt.Errorf("build: read %s: %w", mod, err)
	}
	res.Deps.Files.Add(mod)

	specs := ScanImports(src)
	results := make([]resolver.Result, len(specs))
	deps := make([]*resolver.Deps, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallel)
	for i, spec := range specs {
		i, spec := i, spec
		deps[i] = resolver.NewDeps()
		g.Go(func() error {
			r, err := l.resolve.Resolve(gctx, resolver.Request{Path: path.Dir(mod), Request: spec}, deps[i])
			if err != nil {
				return fmt.Errorf("build: resolve %q from %s: %w", spec, mod, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	imports := make([]string, 0, len(specs))
	for i, r := range results {
		res.Deps.Merge(deps[i])
		if !r.Found {
			res.Unresolved = append(res.Unresolved, Unresolved{From: mod, Request: specs[i]})
			continue
		}
		imports = append(imports, r.Path)
	}
	res.Modules[mod] = imports
	return imports, nil
}

// ScanImports returns the distinct import specifiers of a JavaScript or
// TypeScript source in order of appearance.
func ScanImports(src []byte) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range importRe.FindAllSubmatch(src, -1) {
		s := string(m[1])
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// WatchList returns the directories whose changes can affect a build. Some
// may not exist.
func (r *Result) WatchList() []string {
	dirs := make(map[string]bool)
	for p := range r.Deps.Files {
		dirs[path.Dir(p)] = true
	}
	for p := range r.Deps.Missing {
		dirs[path.Dir(p)] = true
	}
	for p := range r.Deps.Contexts {
		dirs[p] = true
	}
	out := make([]string, 0, len(dirs))
	for d := range dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
