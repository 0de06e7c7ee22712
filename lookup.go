package tiercache

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Etag fingerprints the inputs of a computation. Two entries with the same
// identifier but different etags are different values. The empty Etag means
// "no etag" and only matches itself.
type Etag string

// MergeEtags combines several etags into one. Empty etags are skipped.
func MergeEtags(etags ...Etag) Etag {
	var b strings.Builder
	for _, e := range etags {
		if e == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(string(e))
	}
	return Etag(b.String())
}

// HashEtag returns a short content etag over the given chunks.
func HashEtag(chunks ...[]byte) Etag {
	d := xxhash.New()
	for _, c := range chunks {
		_, _ = d.Write(c)
		_, _ = d.Write([]byte{0})
	}
	return Etag(fmt.Sprintf("%016x", d.Sum64()))
}

// Kind tags the outcome of a tier lookup.
type Kind uint8

const (
	Unknown   Kind = iota // no opinion; ask the next tier
	Hit                   // value found
	Tombstone             // confirmed absent
)

func (k Kind) String() string {
	switch k {
	case Hit:
		return "hit"
	case Tombstone:
		return "tombstone"
	default:
		return "unknown"
	}
}

// Lookup is the answer of one tier (or of the whole Bus) for an (id, etag) pair.
// Value is only meaningful when Kind == Hit.
type Lookup[V any] struct {
	Kind  Kind
	Value V
}

func HitOf[V any](v V) Lookup[V] { return Lookup[V]{Kind: Hit, Value: v} }

func TombstoneOf[V any]() Lookup[V] { return Lookup[V]{Kind: Tombstone} }

func UnknownOf[V any]() Lookup[V] { return Lookup[V]{} }

// Settled reports whether the lookup stops the tier sequence.
func (l Lookup[V]) Settled() bool { return l.Kind != Unknown }

// Found reports whether the lookup carries a value.
func (l Lookup[V]) Found() bool { return l.Kind == Hit }

// Entry is a value together with the etag it was stored under.
type Entry[V any] struct {
	Etag Etag
	Data V
}
