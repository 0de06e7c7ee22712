// Package disk is a file-per-key provider over an afero filesystem.
//
// Each value lives in <dir>/<aa>/<xxhash(key)> behind a small header carrying
// the expiry and the full key, so hash collisions read as misses. Writes go to
// a temp file in the same directory and are renamed into place.
package disk

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	pr "github.com/unkn0wn-root/tiercache/provider"
)

const headerLen = 8 + 4 // expiry unix nanos | key length

type Provider struct {
	fs  afero.Fs
	dir string
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

var _ pr.Provider = (*Provider)(nil)

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type Config struct {
	Dir string   // required
	Fs  afero.Fs // default afero.NewOsFs()
}

func New(cfg Config) (*Provider, error) {
	if cfg.Dir == "" {
		return nil, errors.New("disk provider: dir required")
	}
	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if err := fsys.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk provider: create dir: %w", err)
	}
	return &Provider{
		fs:    fsys,
		dir:   cfg.Dir,
		now:   time.Now,
		locks: make(map[string]*entryLock),
	}, nil
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	raw, err := afero.ReadFile(p.fs, p.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(raw) < headerLen {
		return nil, false, nil
	}
	exp := int64(binary.BigEndian.Uint64(raw[0:8]))
	kl := int(binary.BigEndian.Uint32(raw[8:12]))
	if len(raw)-headerLen < kl || string(raw[headerLen:headerLen+kl]) != key {
		return nil, false, nil
	}
	if exp != 0 && p.now().UnixNano() >= exp {
		_ = p.Del(ctx, key)
		return nil, false, nil
	}
	return raw[headerLen+kl:], true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	unlock := p.lockEntry(key)
	defer unlock()

	var exp int64
	if ttl > 0 {
		exp = p.now().Add(ttl).UnixNano()
	}
	buf := make([]byte, headerLen+len(key)+len(value))
	binary.BigEndian.PutUint64(buf[0:8], uint64(exp))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(key)))
	copy(buf[headerLen:], key)
	copy(buf[headerLen+len(key):], value)

	target := p.path(key)
	dir := filepath.Dir(target)
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	tmp, err := afero.TempFile(p.fs, dir, ".cache-*")
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(buf)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = p.fs.Remove(tmpName)
		return false, err
	}
	if err := p.fs.Rename(tmpName, target); err != nil {
		_ = p.fs.Remove(tmpName)
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	unlock := p.lockEntry(key)
	defer unlock()
	if err := p.fs.Remove(p.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (p *Provider) Close(context.Context) error { return nil }

func (p *Provider) path(key string) string {
	h := fmt.Sprintf("%016x", xxhash.Sum64String(key))
	return filepath.Join(p.dir, h[:2], h)
}

// lockEntry serializes writers of one key.
func (p *Provider) lockEntry(key string) func() {
	p.mu.Lock()
	l := p.locks[key]
	if l == nil {
		l = &entryLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}
