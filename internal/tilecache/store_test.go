package tilecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutLocateRead(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	path := "Earth/DEM/0/3/3_7.bil"
	_, ok := store.Locate(path)
	assert.False(t, ok)

	require.NoError(t, store.Put(path, []byte("elevations")))

	full, ok := store.Locate(path)
	require.True(t, ok)
	assert.True(t, filepath.IsAbs(full))

	data, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("elevations"), data)
}

func TestPutOverwrites(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("a/b.bil", []byte("one")))
	require.NoError(t, store.Put("a/b.bil", []byte("two")))

	data, err := store.Read("a/b.bil")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestPutLeavesNoStagingFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put("x/y.bil", []byte("payload")))

	entries, err := os.ReadDir(filepath.Join(dir, "x"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "y.bil", entries[0].Name())
}

func TestLocateIfFresh(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("t.bil", []byte("data")))

	// zero expiry disables the check
	_, ok := store.LocateIfFresh("t.bil", time.Time{})
	assert.True(t, ok)

	// expiry in the past keeps the entry
	_, ok = store.LocateIfFresh("t.bil", time.Now().Add(-time.Hour))
	assert.True(t, ok)

	// expiry in the future evicts it and reports a miss
	_, ok = store.LocateIfFresh("t.bil", time.Now().Add(time.Hour))
	assert.False(t, ok)
	_, ok = store.Locate("t.bil")
	assert.False(t, ok, "expired entry is removed")
}

func TestRemove(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("r.bil", []byte("x")))
	require.NoError(t, store.Remove("r.bil"))
	_, ok := store.Locate("r.bil")
	assert.False(t, ok)

	assert.NoError(t, store.Remove("never-existed.bil"))
}

func TestNewStoreRejectsEmptyDir(t *testing.T) {
	_, err := NewStore("")
	assert.Error(t, err)
}
