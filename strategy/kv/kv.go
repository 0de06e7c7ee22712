// Package kv persists idle-tier entries into a byte provider.
//
// Every record is framed with the namespace generation it was written under.
// Bumping the generation (explicitly or because the build dependencies
// changed) invalidates the whole namespace at once; stale, corrupt or
// undecodable records are deleted when read.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/genstore"
	"github.com/unkn0wn-root/tiercache/internal/util"
	"github.com/unkn0wn-root/tiercache/internal/wire"
	"github.com/unkn0wn-root/tiercache/provider"
	"github.com/unkn0wn-root/tiercache/tier/idle"
)

const (
	ReasonCorrupt     = "corrupt"
	ReasonGenMismatch = "gen_mismatch"
	ReasonValueDecode = "value_decode"

	ReasonBuildDependencies = "build_dependencies"
	ReasonExplicit          = "explicit"
)

// SetCostFunc computes the admission cost of a record. Default: its size.
type SetCostFunc func(storageKey string, raw []byte) int64

// FingerprintFunc digests the current state of the build dependencies.
type FingerprintFunc func(ctx context.Context, paths []string) (uint64, error)

type Options[V any] struct {
	Namespace string            // required
	Provider  provider.Provider // required
	Codec     codec.Codec[V]    // required

	// GenStore defaults to genstore.NewStored(Provider), which keeps the
	// generation next to the records.
	GenStore genstore.GenStore

	// Fingerprint enables build dependency checks in Open. Without it
	// stored dependencies are never considered changed.
	Fingerprint FingerprintFunc

	TTL            time.Duration // <= 0: no expiry
	ComputeSetCost SetCostFunc

	Logger tiercache.Logger
	Hooks  tiercache.Hooks
}

type Strategy[V any] struct {
	ns          string
	provider    provider.Provider
	codec       codec.Codec[V]
	gen         genstore.GenStore
	fingerprint FingerprintFunc
	ttl         time.Duration
	cost        SetCostFunc
	log         tiercache.Logger
	hooks       tiercache.Hooks
}

var (
	_ idle.Strategy[int] = (*Strategy[int])(nil)
	_ idle.Clearer       = (*Strategy[int])(nil)
)

func New[V any](opts Options[V]) (*Strategy[V], error) {
	if opts.Provider == nil {
		return nil, errors.New("kv: provider is required")
	}
	if opts.Codec == nil {
		return nil, errors.New("kv: codec is required")
	}
	if opts.Namespace == "" {
		return nil, errors.New("kv: namespace is required")
	}
	s := &Strategy[V]{
		ns:          opts.Namespace,
		provider:    opts.Provider,
		codec:       opts.Codec,
		gen:         opts.GenStore,
		fingerprint: opts.Fingerprint,
		ttl:         opts.TTL,
		cost:        opts.ComputeSetCost,
		log:         opts.Logger,
		hooks:       opts.Hooks,
	}
	if s.gen == nil {
		s.gen = genstore.NewStored(opts.Provider)
	}
	if s.cost == nil {
		s.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}
	if s.log == nil {
		s.log = tiercache.NopLogger{}
	}
	if s.hooks == nil {
		s.hooks = tiercache.NopHooks{}
	}
	return s, nil
}

func (s *Strategy[V]) depsKey() string { return util.MetaKey(s.ns, "deps") }

// Open checks the build dependencies recorded by a previous run. If they
// changed, or the record is unreadable, the namespace generation is bumped.
func (s *Strategy[V]) Open(ctx context.Context) (invalidated bool, err error) {
	raw, ok, err := s.provider.Get(ctx, s.depsKey())
	if err != nil {
		return false, fmt.Errorf("kv: read build dependencies: %w", err)
	}
	if !ok {
		return false, nil
	}
	stored, paths, err := wire.DecodeDeps(raw)
	if err != nil {
		_ = s.provider.Del(ctx, s.depsKey())
		s.hooks.SelfHeal(s.depsKey(), ReasonCorrupt)
		return true, s.bump(ctx, ReasonBuildDependencies)
	}
	if s.fingerprint == nil {
		return false, nil
	}
	current, err := s.fingerprint(ctx, paths)
	if err != nil {
		s.log.Warn("build dependency fingerprint failed", tiercache.Fields{"ns": s.ns, "err": err})
		return true, s.bump(ctx, ReasonBuildDependencies)
	}
	if current == stored {
		return false, nil
	}
	s.log.Info("build dependencies changed", tiercache.Fields{
		"ns": s.ns, "deps": len(paths), "digest": util.Digest(paths),
	})
	return true, s.bump(ctx, ReasonBuildDependencies)
}

// Invalidate drops every record of the namespace.
func (s *Strategy[V]) Invalidate(ctx context.Context) error {
	return s.bump(ctx, ReasonExplicit)
}

func (s *Strategy[V]) bump(ctx context.Context, reason string) error {
	g, err := s.gen.Bump(ctx, s.ns)
	if err != nil {
		return fmt.Errorf("kv: bump generation: %w", err)
	}
	s.hooks.Invalidated(s.ns, reason)
	s.log.Debug("namespace invalidated", tiercache.Fields{"ns": s.ns, "gen": g, "reason": reason})
	return nil
}

func (s *Strategy[V]) Store(ctx context.Context, id string, etag tiercache.Etag, data V) error {
	gen, err := s.gen.Snapshot(ctx, s.ns)
	if err != nil {
		return fmt.Errorf("kv: generation snapshot: %w", err)
	}
	payload, err := s.codec.Encode(data)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", id, err)
	}
	raw, err := wire.EncodeEntry(gen, string(etag), payload)
	if err != nil {
		return err
	}
	return s.set(ctx, util.EntryKey(s.ns, id), raw)
}

func (s *Strategy[V]) set(ctx context.Context, key string, raw []byte) error {
	ok, err := s.provider.Set(ctx, key, raw, s.cost(key, raw), s.ttl)
	if err != nil {
		return err
	}
	if !ok {
		s.hooks.ProviderSetRejected(key)
		s.log.Debug("provider rejected write", tiercache.Fields{"key": key})
	}
	return nil
}

// Restore returns ok=false for a missing record or one stored under another
// etag. Records that cannot be used are deleted and reported as SelfHeal.
func (s *Strategy[V]) Restore(ctx context.Context, id string, etag tiercache.Etag) (V, bool, error) {
	var zero V
	key := util.EntryKey(s.ns, id)
	raw, ok, err := s.provider.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	gen, storedEtag, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		s.heal(ctx, key, ReasonCorrupt)
		return zero, false, nil
	}
	cur, err := s.gen.Snapshot(ctx, s.ns)
	if err != nil {
		return zero, false, fmt.Errorf("kv: generation snapshot: %w", err)
	}
	if gen != cur {
		s.heal(ctx, key, ReasonGenMismatch)
		return zero, false, nil
	}
	if tiercache.Etag(storedEtag) != etag {
		return zero, false, nil
	}
	v, err := s.codec.Decode(payload)
	if err != nil {
		s.heal(ctx, key, ReasonValueDecode)
		return zero, false, nil
	}
	return v, true, nil
}

func (s *Strategy[V]) heal(ctx context.Context, key, reason string) {
	_ = s.provider.Del(ctx, key)
	s.hooks.SelfHeal(key, reason)
}

// StoreBuildDependencies records the dependency list with its current
// fingerprint; the next Open compares against it.
func (s *Strategy[V]) StoreBuildDependencies(ctx context.Context, deps []string) error {
	paths := util.SortedUnique(deps)
	var fp uint64
	if s.fingerprint != nil {
		var err error
		if fp, err = s.fingerprint(ctx, paths); err != nil {
			return fmt.Errorf("kv: fingerprint build dependencies: %w", err)
		}
	}
	raw, err := wire.EncodeDeps(fp, paths)
	if err != nil {
		return err
	}
	return s.set(ctx, s.depsKey(), raw)
}

func (s *Strategy[V]) AfterAllStored(ctx context.Context) error {
	if sy, ok := s.provider.(provider.Syncer); ok {
		return sy.Sync(ctx)
	}
	return nil
}

// Clear releases the generation store and the provider.
func (s *Strategy[V]) Clear() error {
	ctx := context.Background()
	return multierr.Combine(s.gen.Close(ctx), s.provider.Close(ctx))
}
