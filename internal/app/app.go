// Package app assembles the cache, the resolver and the build loop from
// configuration.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/genstore"
	asynchook "github.com/unkn0wn-root/tiercache/hooks/async"
	promhook "github.com/unkn0wn-root/tiercache/hooks/prom"
	"github.com/unkn0wn-root/tiercache/internal/build"
	"github.com/unkn0wn-root/tiercache/internal/config"
	zaplog "github.com/unkn0wn-root/tiercache/log/zap"
	"github.com/unkn0wn-root/tiercache/provider"
	"github.com/unkn0wn-root/tiercache/provider/bigcache"
	"github.com/unkn0wn-root/tiercache/provider/disk"
	"github.com/unkn0wn-root/tiercache/provider/redis"
	"github.com/unkn0wn-root/tiercache/provider/ristretto"
	"github.com/unkn0wn-root/tiercache/resolver"
	"github.com/unkn0wn-root/tiercache/snapshot"
	"github.com/unkn0wn-root/tiercache/strategy/kv"
	"github.com/unkn0wn-root/tiercache/tier/generational"
	"github.com/unkn0wn-root/tiercache/tier/idle"
	"github.com/unkn0wn-root/tiercache/tier/memory"
)

const (
	hookWorkers = 2
	hookQueue   = 1024
)

type App struct {
	Bus      tiercache.Bus[resolver.Entry]
	Resolver *resolver.Cache
	Loop     *build.Loop
	Registry *prometheus.Registry

	log   *zap.Logger
	hooks *asynchook.Hooks
}

// New wires every component. fsys is the project filesystem; nil means the
// OS filesystem.
func New(ctx context.Context, cfg *config.Config, zl *zap.Logger, fsys afero.Fs) (a *App, err error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	ph, err := promhook.New(prometheus.WrapRegistererWithPrefix("tiercache_", reg))
	if err != nil {
		return nil, err
	}
	hooks := asynchook.New(ph, hookWorkers, hookQueue)
	defer func() {
		if err != nil {
			hooks.Close()
		}
	}()
	logger := zaplog.New(zl.Named("cache"))

	tiers := []tiercache.Tier[resolver.Entry]{memoryTier(cfg.Cache.Memory, logger, hooks)}
	if cfg.Cache.Idle.Enabled && !cfg.Cache.Disabled {
		t, err := idleTier(ctx, cfg, fsys, logger, hooks)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	bus, err := tiercache.New(tiercache.Options[resolver.Entry]{
		Tiers:    tiers,
		Logger:   logger,
		Hooks:    hooks,
		Disabled: cfg.Cache.Disabled,
	})
	if err != nil {
		return nil, err
	}

	fr := resolver.NewFileResolver(fsys, resolver.FileOptions{
		Extensions: cfg.Resolve.Extensions,
		MainFiles:  cfg.Resolve.MainFiles,
	})
	rc, err := resolver.New(bus, fr, snapshot.New(fsys), resolver.Options{
		Ident:            fr.Ident(),
		CacheWithContext: cfg.Resolve.CacheWithContext,
		Snapshot:         snapshot.Options{Hash: cfg.Resolve.SnapshotHash},
		Logger:           zaplog.New(zl.Named("resolver")),
	})
	if err != nil {
		return nil, err
	}
	loop, err := build.New(build.Config{
		Fs:                fsys,
		Root:              cfg.Build.Root,
		Entries:           cfg.Build.Entries,
		Bus:               bus,
		Resolver:          rc,
		BuildDependencies: cfg.Build.Dependencies,
		Parallelism:       cfg.Build.Parallelism,
		Logger:            zaplog.New(zl.Named("build")),
	})
	if err != nil {
		return nil, err
	}
	return &App{Bus: bus, Resolver: rc, Loop: loop, Registry: reg, log: zl, hooks: hooks}, nil
}

func memoryTier(cfg config.MemoryConfig, l tiercache.Logger, h tiercache.Hooks) tiercache.Tier[resolver.Entry] {
	if cfg.MaxGenerations > 0 {
		return generational.New[resolver.Entry](generational.Options{
			MaxGenerations: cfg.MaxGenerations,
			Logger:         l,
			Hooks:          h,
		})
	}
	return memory.New[resolver.Entry](memory.Options{})
}

func idleTier(ctx context.Context, cfg *config.Config, fsys afero.Fs, l tiercache.Logger, h tiercache.Hooks) (tiercache.Tier[resolver.Entry], error) {
	sc := cfg.Cache.Store
	p, gen, err := store(ctx, sc, fsys)
	if err != nil {
		return nil, err
	}
	c, err := codec.ByName[resolver.Entry](sc.Codec)
	if err != nil {
		return nil, multierr.Append(err, p.Close(ctx))
	}
	strat, err := kv.New(kv.Options[resolver.Entry]{
		Namespace: sc.Namespace,
		Provider:  p,
		Codec:     codec.Limit[resolver.Entry]{Inner: c, MaxDecode: 1 << 20},
		GenStore:  gen,
		Fingerprint: func(ctx context.Context, paths []string) (uint64, error) {
			return snapshot.Fingerprint(ctx, fsys, paths)
		},
		TTL:    sc.TTL,
		Logger: l,
		Hooks:  h,
	})
	if err != nil {
		return nil, multierr.Append(err, p.Close(ctx))
	}
	invalidated, err := strat.Open(ctx)
	if err != nil {
		return nil, multierr.Append(err, strat.Clear())
	}
	if invalidated {
		l.Info("persistent cache invalidated", tiercache.Fields{"ns": sc.Namespace, "backend": sc.Backend})
	}
	ic := cfg.Cache.Idle
	return idle.New[resolver.Entry](strat, idle.Options{
		IdleTimeout:                  ic.Timeout,
		IdleTimeoutForInitialStore:   ic.InitialStoreTimeout,
		IdleTimeoutAfterLargeChanges: ic.LargeChangesTimeout,
		BatchSize:                    ic.BatchSize,
		BatchTime:                    ic.BatchTime,
		LargeChangeRatio:             ic.LargeChangeRatio,
		Logger:                       l,
		Hooks:                        h,
	}), nil
}

// store opens the configured provider and the generation store that matches
// its lifetime: persistent next to the records, shared in redis, in-process
// for the volatile backends.
func store(ctx context.Context, sc config.StoreConfig, fsys afero.Fs) (provider.Provider, genstore.GenStore, error) {
	switch sc.Backend {
	case "disk":
		p, err := disk.New(disk.Config{Dir: sc.Dir, Fs: fsys})
		if err != nil {
			return nil, nil, err
		}
		return p, genstore.NewStored(p), nil
	case "bigcache":
		p, err := bigcache.New(ctx, bigcache.Config{
			LifeWindow:         sc.Bigcache.LifeWindow,
			Shards:             sc.Bigcache.Shards,
			HardMaxCacheSizeMB: sc.Bigcache.HardMaxMB,
			MaxEntrySize:       sc.Bigcache.MaxEntrySize,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, genstore.NewLocal(), nil
	case "ristretto":
		p, err := ristretto.New(ristretto.Config{
			NumCounters: sc.Ristretto.NumCounters,
			MaxCost:     sc.Ristretto.MaxCost,
			BufferItems: sc.Ristretto.BufferItems,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, genstore.NewLocal(), nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		p, err := redis.New(redis.Config{Client: client, Prefix: sc.Redis.Prefix, CloseClient: true})
		if err != nil {
			return nil, nil, multierr.Append(err, client.Close())
		}
		gen, err := genstore.NewRedis(genstore.RedisConfig{Client: client, Prefix: sc.Redis.Prefix, TTL: sc.Redis.GenTTL})
		if err != nil {
			return nil, nil, multierr.Append(err, client.Close())
		}
		return p, gen, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", sc.Backend)
}

// Close flushes the cache durably and stops the hook workers.
func (a *App) Close(ctx context.Context) error {
	err := a.Bus.Shutdown(ctx)
	a.hooks.Close()
	if d := a.hooks.Dropped(); d > 0 {
		a.log.Warn("hook events dropped", zap.Uint64("count", d))
	}
	return err
}
