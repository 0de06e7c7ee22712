// Package generational is an in-memory tier that ages entries by build.
//
// Entries live in a "hot" arena. Every BuildDone demotes a bounded slice of the
// arena, picked by a rotating cursor, into a "cooling" set that expires
// MaxGenerations builds later. Touching a cooling entry (Get or Store) moves it
// back into hot. The policy retained is "used at least once in the last
// MaxGenerations builds", at O(len/MaxGenerations) cost per build.
package generational

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/tiercache"
)

type state uint8

const (
	empty       state = iota // slot on the free list
	live                     // entry present
	tombstone                // confirmed absent
	placeholder              // demoted; the entry is in cooling
)

type slot[V any] struct {
	id    string
	state state
	entry tiercache.Entry[V]
}

// cooled is a demoted hot slot and the generation it expires at.
type cooled[V any] struct {
	tombstone bool
	entry     tiercache.Entry[V]
	until     uint64
	seq       uint64
}

type expiry struct {
	id    string
	until uint64
	seq   uint64
}

type Options struct {
	Name     string // default "generational"
	Priority int    // default tiercache.PriorityGenerational
	// MaxGenerations is the number of builds an unused entry survives.
	// 0 disables aging.
	MaxGenerations int
	Logger         tiercache.Logger // if nil, NopLogger is used
	Hooks          tiercache.Hooks  // if nil, NopHooks is used
}

type Tier[V any] struct {
	name     string
	priority int
	maxGen   uint64
	log      tiercache.Logger
	hooks    tiercache.Hooks

	mu         sync.Mutex
	generation uint64

	// hot
	slots  []slot[V]
	index  map[string]int
	free   []int
	cursor int

	// cooling; queue is ordered by until and may hold stale items (seq mismatch)
	cooling map[string]cooled[V]
	queue   []expiry
	head    int
	seq     uint64
}

var (
	_ tiercache.Tier[struct{}] = (*Tier[struct{}])(nil)
	_ tiercache.BuildObserver  = (*Tier[struct{}])(nil)
)

func New[V any](opts Options) *Tier[V] {
	t := &Tier[V]{
		name:     opts.Name,
		priority: opts.Priority,
		log:      opts.Logger,
		hooks:    opts.Hooks,
		index:    make(map[string]int),
		cooling:  make(map[string]cooled[V]),
	}
	if opts.MaxGenerations > 0 {
		t.maxGen = uint64(opts.MaxGenerations)
	}
	if t.name == "" {
		t.name = "generational"
	}
	if t.priority == 0 {
		t.priority = tiercache.PriorityGenerational
	}
	if t.log == nil {
		t.log = tiercache.NopLogger{}
	}
	if t.hooks == nil {
		t.hooks = tiercache.NopHooks{}
	}
	return t
}

func (t *Tier[V]) Name() string  { return t.name }
func (t *Tier[V]) Priority() int { return t.priority }

func (t *Tier[V]) Get(_ context.Context, id string, etag tiercache.Etag) (tiercache.Lookup[V], tiercache.Promoter[V], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := t.index[id]; ok {
		s := &t.slots[i]
		switch s.state {
		case tombstone:
			return tiercache.TombstoneOf[V](), nil, nil
		case live:
			if s.entry.Etag != etag {
				return tiercache.TombstoneOf[V](), nil, nil
			}
			return tiercache.HitOf(s.entry.Data), nil, nil
		}
	}

	if c, ok := t.cooling[id]; ok {
		if c.tombstone {
			delete(t.cooling, id)
			t.put(id, slot[V]{state: tombstone})
			return tiercache.TombstoneOf[V](), nil, nil
		}
		if c.entry.Etag != etag {
			return tiercache.TombstoneOf[V](), nil, nil
		}
		delete(t.cooling, id)
		t.put(id, slot[V]{state: live, entry: c.entry})
		return tiercache.HitOf(c.entry.Data), nil, nil
	}

	return tiercache.UnknownOf[V](), func(_ context.Context, final tiercache.Lookup[V]) error {
		t.mu.Lock()
		defer t.mu.Unlock()
		// Written since the miss; a demoted id keeps its placeholder here.
		if _, ok := t.index[id]; ok {
			return nil
		}
		if final.Found() {
			t.put(id, slot[V]{state: live, entry: tiercache.Entry[V]{Etag: etag, Data: final.Value}})
		} else {
			t.put(id, slot[V]{state: tombstone})
		}
		return nil
	}, nil
}

// Store writes into hot. A cooling copy of the same id is dropped: the fresh
// write wins.
func (t *Tier[V]) Store(_ context.Context, id string, etag tiercache.Etag, data V) error {
	t.mu.Lock()
	delete(t.cooling, id)
	t.put(id, slot[V]{state: live, entry: tiercache.Entry[V]{Etag: etag, Data: data}})
	t.mu.Unlock()
	return nil
}

// put writes s into the slot for id, reusing its position when id is known.
// Caller holds mu.
func (t *Tier[V]) put(id string, s slot[V]) {
	s.id = id
	if i, ok := t.index[id]; ok {
		t.slots[i] = s
		return
	}
	if n := len(t.free); n > 0 {
		i := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[i] = s
		t.index[id] = i
		return
	}
	t.slots = append(t.slots, s)
	t.index[id] = len(t.slots) - 1
}

// release returns slot i to the free list. Caller holds mu.
func (t *Tier[V]) release(i int) {
	delete(t.index, t.slots[i].id)
	t.slots[i] = slot[V]{}
	t.free = append(t.free, i)
}

// BuildDone advances the generation, purges expired cooling entries and
// demotes the next slice of hot.
func (t *Tier[V]) BuildDone(context.Context, tiercache.BuildStats) {
	t.mu.Lock()
	t.generation++
	if t.maxGen == 0 {
		t.mu.Unlock()
		return
	}
	purged := t.purge()
	demoted := t.demote()
	hot, cool := len(t.index), len(t.cooling)
	gen := t.generation
	t.mu.Unlock()

	if purged > 0 {
		t.hooks.Evicted(t.name, purged)
	}
	t.log.Debug("generation processed", tiercache.Fields{
		"tier": t.name, "generation": gen, "purged": purged, "demoted": demoted, "hot": hot, "cooling": cool,
	})
}

// purge drops cooling entries whose grace window ended. The hot placeholder
// goes with them unless the id was restored meanwhile. Caller holds mu.
func (t *Tier[V]) purge() int {
	n := 0
	for t.head < len(t.queue) {
		e := t.queue[t.head]
		if e.until > t.generation {
			break
		}
		t.queue[t.head] = expiry{}
		t.head++
		c, ok := t.cooling[e.id]
		if !ok || c.seq != e.seq {
			continue
		}
		delete(t.cooling, e.id)
		if i, ok := t.index[e.id]; ok && t.slots[i].state == placeholder {
			t.release(i)
			n++
		}
	}
	if t.head > 0 && t.head*2 >= len(t.queue) {
		t.queue = append(t.queue[:0], t.queue[t.head:]...)
		t.head = 0
	}
	return n
}

// demote moves ceil(used/maxGen) hot entries, starting at the cursor, into
// cooling and leaves placeholders behind. Caller holds mu.
func (t *Tier[V]) demote() int {
	used := len(t.index)
	if used == 0 {
		return 0
	}
	want := (used + int(t.maxGen) - 1) / int(t.maxGen)
	size := len(t.slots)
	if t.cursor >= size {
		t.cursor = 0
	}
	until := t.generation + t.maxGen
	n := 0
	for step := 0; step < size && n < want; step++ {
		i := (t.cursor + step) % size
		s := &t.slots[i]
		if s.state != live && s.state != tombstone {
			continue
		}
		t.seq++
		t.cooling[s.id] = cooled[V]{tombstone: s.state == tombstone, entry: s.entry, until: until, seq: t.seq}
		t.queue = append(t.queue, expiry{id: s.id, until: until, seq: t.seq})
		s.state = placeholder
		s.entry = tiercache.Entry[V]{}
		n++
		if n == want {
			t.cursor = (i + 1) % size
		}
	}
	if n < want {
		t.cursor = 0
	}
	return n
}

// Shutdown drops everything; this tier never persists.
func (t *Tier[V]) Shutdown(context.Context) error {
	t.mu.Lock()
	t.slots = nil
	t.free = nil
	t.cursor = 0
	clear(t.index)
	clear(t.cooling)
	t.queue = nil
	t.head = 0
	t.mu.Unlock()
	return nil
}

// Len returns the number of hot ids (placeholders included) and cooling entries.
func (t *Tier[V]) Len() (hot, cooling int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.index), len(t.cooling)
}

// Generation returns the number of builds seen.
func (t *Tier[V]) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}
