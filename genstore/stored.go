package genstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/tiercache/internal/util"
	"github.com/unkn0wn-root/tiercache/provider"
)

// Stored keeps the generation as an 8-byte record in a provider, so it
// survives restarts together with the records it guards (disk provider).
// Bumps are serialized in-process; it is not safe across processes sharing
// one provider (use Redis for that).
type Stored struct {
	p provider.Provider

	mu sync.Mutex
}

var _ GenStore = (*Stored)(nil)

func NewStored(p provider.Provider) *Stored {
	return &Stored{p: p}
}

func (s *Stored) key(ns string) string { return util.MetaKey(ns, "gen") }

func (s *Stored) Snapshot(ctx context.Context, ns string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx, ns)
}

func (s *Stored) read(ctx context.Context, ns string) (uint64, error) {
	b, ok, err := s.p.Get(ctx, s.key(ns))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("genstore: malformed generation record (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func (s *Stored) Bump(ctx context.Context, ns string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.read(ctx, ns)
	if err != nil {
		// A malformed record must not pin the namespace; start over past it.
		g = uint64(time.Now().UnixNano())
	}
	g++
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], g)
	ok, err := s.p.Set(ctx, s.key(ns), b[:], 8, 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("genstore: provider rejected generation write")
	}
	if sy, ok := s.p.(provider.Syncer); ok {
		if err := sy.Sync(ctx); err != nil {
			return 0, err
		}
	}
	return g, nil
}

// Close is a no-op: the provider belongs to the caller.
func (s *Stored) Close(context.Context) error { return nil }
