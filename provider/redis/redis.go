// Package redis stores persisted cache records in a shared redis server, so
// several build processes (or CI runners) reuse one cache.
//
// Keys are placed under Config.Prefix the same way genstore.Redis places
// generation keys, so one prefix scopes a whole cache:
//
//	<prefix>:e:<ns>:<id>    entries
//	<prefix>:m:<ns>:deps    build dependencies
//	<prefix>:gen:<ns>       generation (genstore.Redis)
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache/internal/util"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

type Provider struct {
	rdb    goredis.UniversalClient
	prefix string
	owned  bool
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	Client      goredis.UniversalClient
	Prefix      string // scopes every key, e.g. "tiercache"; a trailing ":" is added
	CloseClient bool   // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Provider, error) {
	if cfg.Client == nil {
		return nil, pr.ErrNilClient
	}
	return &Provider{rdb: cfg.Client, prefix: cfg.Prefix, owned: cfg.CloseClient}, nil
}

func (p *Provider) key(k string) string { return util.RemoteKey(p.prefix, k) }

// Get treats redis.Nil as a miss; any other error is a transport failure the
// caller reports as a restore error.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, p.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set ignores cost; redis evicts by its own maxmemory policy. A non-positive
// ttl stores without expiry.
func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if err := p.rdb.Set(ctx, p.key(key), value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, p.key(key)).Err()
}

// Close closes the client only when the provider owns it. Repeated calls are
// no-ops.
func (p *Provider) Close(context.Context) error {
	if !p.owned {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
