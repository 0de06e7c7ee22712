package resolver

import (
	"context"
	"sort"
	"time"

	"github.com/unkn0wn-root/tiercache/snapshot"
)

// Request is one resolution: a specifier issued from a directory.
type Request struct {
	Path    string            `json:"path"`    // directory the request is issued from
	Request string            `json:"request"` // specifier as written
	Context map[string]string `json:"context,omitempty"`
}

type Result struct {
	Path  string `json:"path,omitempty" cbor:"p,omitempty" msgpack:"p,omitempty"`
	Found bool   `json:"found" cbor:"f" msgpack:"f"`
}

// Entry is the cached value: the result plus the filesystem state it was
// computed from.
type Entry struct {
	Result   Result             `json:"result" cbor:"r" msgpack:"r"`
	Snapshot *snapshot.Snapshot `json:"snapshot" cbor:"s" msgpack:"s"`
}

// PathSet is a set of filesystem paths.
type PathSet map[string]struct{}

func (s PathSet) Add(p string) { s[p] = struct{}{} }

func (s PathSet) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the members in ascending order.
func (s PathSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Deps collects what a computation touched.
type Deps struct {
	Files    PathSet
	Contexts PathSet
	Missing  PathSet
}

func NewDeps() *Deps {
	return &Deps{Files: PathSet{}, Contexts: PathSet{}, Missing: PathSet{}}
}

// Merge adds every member of o. A nil receiver ignores the call.
func (d *Deps) Merge(o *Deps) {
	if d == nil || o == nil {
		return
	}
	for p := range o.Files {
		d.Files.Add(p)
	}
	for p := range o.Contexts {
		d.Contexts.Add(p)
	}
	for p := range o.Missing {
		d.Missing.Add(p)
	}
}

func depsOf(s *snapshot.Snapshot) *Deps {
	d := NewDeps()
	if s == nil {
		return d
	}
	for p := range s.Files {
		d.Files.Add(p)
	}
	for p := range s.Contexts {
		d.Contexts.Add(p)
	}
	for _, p := range s.Missing {
		d.Missing.Add(p)
	}
	return d
}

// Resolver performs a real resolution, recording every path it touches in deps.
type Resolver interface {
	Resolve(ctx context.Context, req Request, deps *Deps) (Result, error)
}

// Snapshotter creates and validates filesystem snapshots.
// *snapshot.FileSystemInfo implements it.
type Snapshotter interface {
	CreateSnapshot(ctx context.Context, start time.Time, files, contexts, missing []string, opts snapshot.Options) (*snapshot.Snapshot, error)
	CheckSnapshotValid(ctx context.Context, snap *snapshot.Snapshot) (bool, error)
}

var _ Snapshotter = (*snapshot.FileSystemInfo)(nil)
