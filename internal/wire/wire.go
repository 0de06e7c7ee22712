// Package wire frames the records the kv strategy persists. Decoding is
// strict: any malformed header, bad length or trailing byte is ErrCorrupt.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version   byte = 1
	kindEntry byte = 1
	kindDeps  byte = 2

	maxField = 0xFFFF
)

var (
	ErrCorrupt = errors.New("tiercache: corrupt record")
	magic4     = [...]byte{'T', 'I', 'E', 'R'}
)

func header(b []byte, kind byte, min int) bool {
	return len(b) >= min && bytes.Equal(b[:4], magic4[:]) && b[4] == version && b[5] == kind
}

// Entry: magic(4) | ver(1) | kind(1=entry) | gen(u64 be) | elen(u16 be) | etag(elen) | vlen(u32 be) | payload(vlen)
func EncodeEntry(gen uint64, etag string, payload []byte) ([]byte, error) {
	if len(etag) > maxField {
		return nil, fmt.Errorf("wire: etag too long (%d bytes)", len(etag))
	}
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 2 + len(etag) + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(etag)))
	buf.Write(u2[:])
	buf.WriteString(etag)

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])
	buf.Write(payload)
	return buf.Bytes(), nil
}

func DecodeEntry(b []byte) (gen uint64, etag string, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 2
	if !header(b, kindEntry, hdr) {
		return 0, "", nil, ErrCorrupt
	}
	off := 6
	gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	elen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if elen > len(b)-off {
		return 0, "", nil, ErrCorrupt
	}
	etag = string(b[off : off+elen])
	off += elen

	if off+4 > len(b) {
		return 0, "", nil, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact: no trailing bytes
		return 0, "", nil, ErrCorrupt
	}
	return gen, etag, b[off:], nil
}

// Deps: magic(4) | ver(1) | kind(2=deps) | fingerprint(u64 be) | n(u32 be) | (plen(u16 be) | path(plen)) * n
func EncodeDeps(fingerprint uint64, paths []string) ([]byte, error) {
	total := 4 + 1 + 1 + 8 + 4
	for _, p := range paths {
		if l := len(p); l == 0 || l > maxField {
			return nil, fmt.Errorf("wire: invalid dependency path length %d", l)
		}
		total += 2 + len(p)
	}

	var buf bytes.Buffer
	buf.Grow(total)
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindDeps)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], fingerprint)
	buf.Write(u8[:])
	binary.BigEndian.PutUint32(u4[:], uint32(len(paths)))
	buf.Write(u4[:])

	for _, p := range paths {
		binary.BigEndian.PutUint16(u2[:], uint16(len(p)))
		buf.Write(u2[:])
		buf.WriteString(p)
	}
	return buf.Bytes(), nil
}

func DecodeDeps(b []byte) (fingerprint uint64, paths []string, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if !header(b, kindDeps, hdr) {
		return 0, nil, ErrCorrupt
	}
	off := 6
	fingerprint = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4

	// Every path takes at least 3 bytes; don't trust n for preallocation.
	if n < 0 || n > (len(b)-off)/3 {
		return 0, nil, ErrCorrupt
	}
	paths = make([]string, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return 0, nil, ErrCorrupt
		}
		plen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if plen <= 0 || plen > len(b)-off {
			return 0, nil, ErrCorrupt
		}
		paths = append(paths, string(b[off:off+plen]))
		off += plen
	}
	if off != len(b) {
		return 0, nil, ErrCorrupt
	}
	return fingerprint, paths, nil
}
