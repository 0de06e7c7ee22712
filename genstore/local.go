package genstore

import (
	"context"
	"sync"
)

// Local keeps generations in-process. Pair it with providers that do not
// outlive the process (bigcache, ristretto).
type Local struct {
	mu   sync.RWMutex
	gens map[string]uint64
}

var _ GenStore = (*Local)(nil)

func NewLocal() *Local {
	return &Local{gens: make(map[string]uint64)}
}

func (s *Local) Snapshot(_ context.Context, ns string) (uint64, error) {
	s.mu.RLock()
	g := s.gens[ns]
	s.mu.RUnlock()
	return g, nil
}

func (s *Local) Bump(_ context.Context, ns string) (uint64, error) {
	s.mu.Lock()
	s.gens[ns]++
	g := s.gens[ns]
	s.mu.Unlock()
	return g, nil
}

func (s *Local) Close(context.Context) error { return nil }
