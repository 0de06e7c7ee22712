// Package memory provides the simplest cache tier: an in-process map without
// eviction. It is safe to register as the fastest tier of a tiercache.Bus.
package memory

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/tiercache"
)

// slot holds either an entry or a tombstone (confirmed absent).
type slot[V any] struct {
	tombstone bool
	entry     tiercache.Entry[V]
}

type Tier[V any] struct {
	name     string
	priority int

	mu      sync.Mutex
	entries map[string]slot[V]
}

var _ tiercache.Tier[struct{}] = (*Tier[struct{}])(nil)

type Options struct {
	Name     string // default "memory"
	Priority int    // default tiercache.PriorityMemory
}

func New[V any](opts Options) *Tier[V] {
	t := &Tier[V]{
		name:     opts.Name,
		priority: opts.Priority,
		entries:  make(map[string]slot[V]),
	}
	if t.name == "" {
		t.name = "memory"
	}
	if t.priority == 0 {
		t.priority = tiercache.PriorityMemory
	}
	return t
}

func (t *Tier[V]) Name() string  { return t.name }
func (t *Tier[V]) Priority() int { return t.priority }

// Get answers definitively for known identifiers: a tombstone or an etag
// mismatch is a miss that stops the lookup. Unknown identifiers defer to slower
// tiers and remember whatever they find.
func (t *Tier[V]) Get(_ context.Context, id string, etag tiercache.Etag) (tiercache.Lookup[V], tiercache.Promoter[V], error) {
	t.mu.Lock()
	s, ok := t.entries[id]
	t.mu.Unlock()
	if ok {
		if s.tombstone || s.entry.Etag != etag {
			return tiercache.TombstoneOf[V](), nil, nil
		}
		return tiercache.HitOf(s.entry.Data), nil, nil
	}
	return tiercache.UnknownOf[V](), func(_ context.Context, final tiercache.Lookup[V]) error {
		t.mu.Lock()
		defer t.mu.Unlock()
		// A Store since the miss is fresher than anything a slower tier had.
		if _, ok := t.entries[id]; ok {
			return nil
		}
		if final.Found() {
			t.entries[id] = slot[V]{entry: tiercache.Entry[V]{Etag: etag, Data: final.Value}}
		} else {
			t.entries[id] = slot[V]{tombstone: true}
		}
		return nil
	}, nil
}

func (t *Tier[V]) Store(_ context.Context, id string, etag tiercache.Etag, data V) error {
	t.mu.Lock()
	t.entries[id] = slot[V]{entry: tiercache.Entry[V]{Etag: etag, Data: data}}
	t.mu.Unlock()
	return nil
}

// Shutdown drops everything; this tier never persists.
func (t *Tier[V]) Shutdown(context.Context) error {
	t.mu.Lock()
	clear(t.entries)
	t.mu.Unlock()
	return nil
}

// Len returns the number of identifiers held, tombstones included.
func (t *Tier[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
