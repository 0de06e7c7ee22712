// Package codec turns cached values into bytes for persistent strategies.
package codec

import (
	"fmt"
	"strings"

	"github.com/golang/snappy"
)

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ByName returns the codec configured by name: "json", "cbor", "msgpack",
// optionally suffixed with "+snappy" for compression (e.g. "cbor+snappy").
func ByName[V any](name string) (Codec[V], error) {
	base, compress := strings.CutSuffix(strings.ToLower(strings.TrimSpace(name)), "+snappy")
	var c Codec[V]
	switch base {
	case "json":
		c = JSON[V]{}
	case "cbor", "":
		cb, err := NewCBOR[V](true)
		if err != nil {
			return nil, err
		}
		c = cb
	case "msgpack":
		c = Msgpack[V]{}
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	if compress {
		c = Snappy[V]{Inner: c}
	}
	return c, nil
}

// Snappy compresses the output of Inner with snappy block encoding.
type Snappy[V any] struct {
	Inner Codec[V]
}

func (c Snappy[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, b), nil
}

func (c Snappy[V]) Decode(b []byte) (V, error) {
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("codec: snappy: %w", err)
	}
	return c.Inner.Decode(raw)
}

// Limit rejects payloads larger than MaxDecode bytes before Inner sees them.
// MaxDecode <= 0 disables the check. Encode is forwarded unchanged.
//
// Use it in front of shared providers (redis) where another process could
// have written an oversized record.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("codec: payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
