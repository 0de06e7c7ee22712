// Package snapshot records the filesystem state a computation depended on and
// later answers whether that state still holds.
//
// A snapshot covers three kinds of dependencies: files (timestamps or content
// hashes), contexts (directory listings) and missing paths (valid while they
// stay absent). Any doubt reads as invalid.
package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// Stamp is the recorded state of one path.
type Stamp struct {
	Exists  bool   `json:"e" cbor:"e" msgpack:"e"`
	ModTime int64  `json:"m,omitempty" cbor:"m,omitempty" msgpack:"m,omitempty"` // unix nanos
	Size    int64  `json:"s,omitempty" cbor:"s,omitempty" msgpack:"s,omitempty"`
	Hashed  bool   `json:"x,omitempty" cbor:"x,omitempty" msgpack:"x,omitempty"`
	Hash    uint64 `json:"h,omitempty" cbor:"h,omitempty" msgpack:"h,omitempty"`
}

// Snapshot is immutable once created.
type Snapshot struct {
	StartTime int64            `json:"t" cbor:"t" msgpack:"t"`
	Files     map[string]Stamp `json:"f,omitempty" cbor:"f,omitempty" msgpack:"f,omitempty"`
	Contexts  map[string]Stamp `json:"c,omitempty" cbor:"c,omitempty" msgpack:"c,omitempty"`
	Missing   []string         `json:"n,omitempty" cbor:"n,omitempty" msgpack:"n,omitempty"`
}

// Len is the number of recorded dependencies.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Files) + len(s.Contexts) + len(s.Missing)
}

type Options struct {
	// Hash compares file contents instead of timestamps.
	Hash bool
}

// FileSystemInfo creates and validates snapshots over an afero filesystem.
// Safe for concurrent use.
type FileSystemInfo struct {
	fs afero.Fs
}

func New(fsys afero.Fs) *FileSystemInfo {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &FileSystemInfo{fs: fsys}
}

// CreateSnapshot stamps every dependency as of now. Files modified at or after
// start are content-hashed even without Options.Hash, since their timestamp
// cannot tell a later edit apart from the one the computation saw.
func (fi *FileSystemInfo) CreateSnapshot(ctx context.Context, start time.Time, files, contexts, missing []string, opts Options) (*Snapshot, error) {
	snap := &Snapshot{StartTime: start.UnixNano()}
	if len(files) > 0 {
		snap.Files = make(map[string]Stamp, len(files))
	}
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st, err := fi.fileStamp(p, opts.Hash, snap.StartTime)
		if err != nil {
			return nil, err
		}
		snap.Files[p] = st
	}
	if len(contexts) > 0 {
		snap.Contexts = make(map[string]Stamp, len(contexts))
	}
	for _, p := range contexts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st, err := fi.contextStamp(p)
		if err != nil {
			return nil, err
		}
		snap.Contexts[p] = st
	}
	if len(missing) > 0 {
		snap.Missing = append([]string(nil), missing...)
		sort.Strings(snap.Missing)
	}
	return snap, nil
}

// CheckSnapshotValid reports whether every recorded dependency is unchanged.
// A nil snapshot is invalid. IO errors other than "not exist" are returned
// and must be treated as invalid by the caller.
func (fi *FileSystemInfo) CheckSnapshotValid(ctx context.Context, snap *Snapshot) (bool, error) {
	if snap == nil {
		return false, nil
	}
	for p, want := range snap.Files {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		info, err := fi.stat(p)
		if err != nil {
			return false, err
		}
		if (info != nil) != want.Exists {
			return false, nil
		}
		if info == nil {
			continue
		}
		if want.Hashed {
			if info.IsDir() {
				return false, nil
			}
			h, err := fi.hashFile(p)
			if err != nil {
				return false, err
			}
			if h != want.Hash {
				return false, nil
			}
			continue
		}
		if info.ModTime().UnixNano() != want.ModTime || info.Size() != want.Size {
			return false, nil
		}
	}
	for p, want := range snap.Contexts {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		got, err := fi.contextStamp(p)
		if err != nil {
			return false, err
		}
		if got != want {
			return false, nil
		}
	}
	for _, p := range snap.Missing {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		info, err := fi.stat(p)
		if err != nil {
			return false, err
		}
		if info != nil {
			return false, nil
		}
	}
	return true, nil
}

// stat returns (nil, nil) for a path that does not exist.
func (fi *FileSystemInfo) stat(p string) (os.FileInfo, error) {
	info, err := fi.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}

func (fi *FileSystemInfo) fileStamp(p string, hash bool, start int64) (Stamp, error) {
	info, err := fi.stat(p)
	if err != nil || info == nil {
		return Stamp{}, err
	}
	st := Stamp{Exists: true, ModTime: info.ModTime().UnixNano(), Size: info.Size()}
	if info.IsDir() || (!hash && st.ModTime < start) {
		return st, nil
	}
	h, err := fi.hashFile(p)
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{Exists: true, Hashed: true, Hash: h}, nil
}

// contextStamp hashes the sorted directory listing, one entry per name with
// a directory marker.
func (fi *FileSystemInfo) contextStamp(p string) (Stamp, error) {
	info, err := fi.stat(p)
	if err != nil || info == nil {
		return Stamp{}, err
	}
	if !info.IsDir() {
		return Stamp{Exists: true, Size: info.Size(), ModTime: info.ModTime().UnixNano()}, nil
	}
	entries, err := afero.ReadDir(fi.fs, p)
	if err != nil {
		return Stamp{}, err
	}
	d := xxhash.New()
	for _, e := range entries { // ReadDir sorts by name
		_, _ = d.WriteString(e.Name())
		if e.IsDir() {
			_, _ = d.WriteString("/")
		}
		_, _ = d.Write([]byte{0})
	}
	return Stamp{Exists: true, Hashed: true, Hash: d.Sum64()}, nil
}

func (fi *FileSystemInfo) hashFile(p string) (uint64, error) {
	f, err := fi.fs.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}

// Fingerprint digests the contents of paths in sorted order. Missing files
// contribute their absence, so creating one changes the fingerprint too.
func Fingerprint(ctx context.Context, fsys afero.Fs, paths []string) (uint64, error) {
	fi := New(fsys)
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	d := xxhash.New()
	var buf [8]byte
	for _, p := range sorted {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
		info, err := fi.stat(p)
		if err != nil {
			return 0, err
		}
		switch {
		case info == nil:
			_, _ = d.WriteString("!missing")
		case info.IsDir():
			st, err := fi.contextStamp(p)
			if err != nil {
				return 0, err
			}
			binary.BigEndian.PutUint64(buf[:], st.Hash)
			_, _ = d.Write(buf[:])
		default:
			h, err := fi.hashFile(p)
			if err != nil {
				return 0, err
			}
			binary.BigEndian.PutUint64(buf[:], h)
			_, _ = d.Write(buf[:])
		}
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64(), nil
}
