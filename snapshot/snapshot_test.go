package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/a.js", []byte("import './b'"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/src/b.js", []byte("export default 1"), 0o644))
	return fsys
}

func TestUnchangedSnapshotIsValid(t *testing.T) {
	ctx := context.Background()
	fsys := fixture(t)
	fi := New(fsys)
	start := time.Now().Add(time.Hour)

	snap, err := fi.CreateSnapshot(ctx, start, []string{"/src/a.js"}, []string{"/src"}, []string{"/src/c.js"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())

	ok, err := fi.CheckSnapshotValid(ctx, snap)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTimestampChangeInvalidates(t *testing.T) {
	ctx := context.Background()
	fsys := fixture(t)
	fi := New(fsys)
	snap, err := fi.CreateSnapshot(ctx, time.Now().Add(time.Hour), []string{"/src/a.js"}, nil, nil, Options{})
	require.NoError(t, err)
	require.False(t, snap.Files["/src/a.js"].Hashed)

	later := time.Now().Add(2 * time.Hour)
	require.NoError(t, fsys.Chtimes("/src/a.js", later, later))

	ok, err := fi.CheckSnapshotValid(ctx, snap)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashModeIgnoresTouch(t *testing.T) {
	ctx := context.Background()
	fsys := fixture(t)
	fi := New(fsys)
	snap, err := fi.CreateSnapshot(ctx, time.Now().Add(time.Hour), []string{"/src/a.js"}, nil, nil, Options{Hash: true})
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Hour)
	require.NoError(t, fsys.Chtimes("/src/a.js", later, later))
	ok, err := fi.CheckSnapshotValid(ctx, snap)
	require.NoError(t, err)
	assert.True(t, ok, "same contents must stay valid")

	require.NoError(t, afero.WriteFile(fsys, "/src/a.js", []byte("changed"), 0o644))
	ok, err = fi.CheckSnapshotValid(ctx, snap)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecentFilesAreHashed(t *testing.T) {
	fsys := fixture(t)
	snap, err := New(fsys).CreateSnapshot(context.Background(), time.Now().Add(-time.Hour), []string{"/src/a.js"}, nil, nil, Options{})
	require.NoError(t, err)
	assert.True(t, snap.Files["/src/a.js"].Hashed)
}

func TestMissingPathAppearing(t *testing.T) {
	ctx := context.Background()
	fsys := fixture(t)
	fi := New(fsys)
	snap, err := fi.CreateSnapshot(ctx, time.Now(), nil, nil, []string{"/src/c.js"}, Options{})
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, "/src/c.js", []byte("x"), 0o644))
	ok, err := fi.CheckSnapshotValid(ctx, snap)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContextListingChange(t *testing.T) {
	ctx := context.Background()
	fsys := fixture(t)
	fi := New(fsys)
	snap, err := fi.CreateSnapshot(ctx, time.Now(), nil, []string{"/src"}, nil, Options{})
	require.NoError(t, err)

	// Editing a file keeps the listing.
	require.NoError(t, afero.WriteFile(fsys, "/src/b.js", []byte("export default 2"), 0o644))
	ok, err := fi.CheckSnapshotValid(ctx, snap)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, fsys.MkdirAll("/src/lib", 0o755))
	ok, err = fi.CheckSnapshotValid(ctx, snap)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNilSnapshotIsInvalid(t *testing.T) {
	ok, err := New(afero.NewMemMapFs()).CheckSnapshotValid(context.Background(), nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	ctx := context.Background()
	fsys := fixture(t)
	paths := []string{"/src/b.js", "/src/a.js", "/package.json"}

	f1, err := Fingerprint(ctx, fsys, paths)
	require.NoError(t, err)
	f2, err := Fingerprint(ctx, fsys, []string{"/package.json", "/src/a.js", "/src/b.js"})
	require.NoError(t, err)
	assert.Equal(t, f1, f2, "order must not matter")

	require.NoError(t, afero.WriteFile(fsys, "/package.json", []byte("{}"), 0o644))
	f3, err := Fingerprint(ctx, fsys, paths)
	require.NoError(t, err)
	assert.NotEqual(t, f1, f3)
}
