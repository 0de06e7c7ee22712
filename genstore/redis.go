package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache/internal/util"
	"github.com/unkn0wn-root/tiercache/provider"
)

// Redis shares namespace generations between build processes (CI runners
// using one redis provider). With a TTL, an idle namespace's generation
// expires; readers then observe gen=0 and older records self-heal.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration // 0 disables expiry
	owned  bool
}

var _ GenStore = (*Redis)(nil)

type RedisConfig struct {
	Client      redis.UniversalClient
	Prefix      string        // key prefix, should match the provider's
	TTL         time.Duration // optional expiry for generation keys
	CloseClient bool          // set true only if the store exclusively owns the client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, provider.ErrNilClient
	}
	return &Redis{rdb: cfg.Client, prefix: cfg.Prefix, ttl: cfg.TTL, owned: cfg.CloseClient}, nil
}

func (s *Redis) key(ns string) string { return util.RemoteKey(s.prefix, "gen", ns) }

// Snapshot returns the current generation.
// Missing keys are treated as generation 0.
func (s *Redis) Snapshot(ctx context.Context, ns string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(ns)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

// Bump atomically increments the generation and (optionally) refreshes TTL.
// When ttl > 0, INCR + EXPIRE are pipelined in a single round-trip and the
// INCR result is captured from the pipeline (no extra INCR).
func (s *Redis) Bump(ctx context.Context, ns string) (uint64, error) {
	k := s.key(ns)

	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Close closes the underlying client when the store owns it.
func (s *Redis) Close(context.Context) error {
	if !s.owned {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
