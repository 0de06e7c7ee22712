package util

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// maxInlineID bounds identifiers stored verbatim in a storage key. Longer ones
// (resolver requests serialize their whole context) are replaced by a digest.
const maxInlineID = 200

// EntryKey returns the storage key of one persisted entry in namespace ns.
func EntryKey(ns, id string) string {
	if len(id) <= maxInlineID {
		return "e:" + ns + ":" + id
	}
	sum := sha256.Sum256([]byte(id))
	return "e:" + ns + ":#" + hex.EncodeToString(sum[:16])
}

// MetaKey returns the storage key of namespace metadata (generation, deps).
func MetaKey(ns, name string) string {
	return "m:" + ns + ":" + name
}

// RemoteKey places a storage key under a shared-server prefix. A prefix
// without a trailing ":" gets one, so "tiercache" and "tiercache:" agree.
// Redis providers and generation stores must build keys the same way.
func RemoteKey(prefix string, parts ...string) string {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix + strings.Join(parts, ":")
}

// SortedUnique returns a sorted copy of paths without duplicates or empties.
func SortedUnique(paths []string) []string {
	s := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			s = append(s, p)
		}
	}
	sort.Strings(s)
	out := s[:0]
	for i, p := range s {
		if i == 0 || p != s[i-1] {
			out = append(out, p)
		}
	}
	return out
}

// Digest is a short stable digest of sorted members, used in log fields.
func Digest(members []string) string {
	sum := sha256.Sum256([]byte(strings.Join(SortedUnique(members), "\n")))
	return hex.EncodeToString(sum[:8])
}
