package engine

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpmoore/blinkdb/internal/store"
)

func newTestEngine(t *testing.T, cacheCapacity int) *Engine {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	disk, err := store.Open(t.TempDir(), logger)
	require.NoError(t, err)

	e, err := New(disk, Options{CacheCapacity: cacheCapacity}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func TestEnginePutGet(t *testing.T) {
	e := newTestEngine(t, 16)

	require.NoError(t, e.Put([]byte("foo"), []byte("bar")))

	v, ok := e.Get([]byte("foo"))
	require.True(t, ok)
	require.Equal(t, []byte("bar"), v)
}

func TestEngineGetMiss(t *testing.T) {
	e := newTestEngine(t, 16)
	_, ok := e.Get([]byte("missing"))
	require.False(t, ok)
}

func TestEngineDelSemantics(t *testing.T) {
	e := newTestEngine(t, 16)
	require.NoError(t, e.Put([]byte("foo"), []byte("bar")))

	existed, err := e.Del([]byte("foo"))
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = e.Del([]byte("foo"))
	require.NoError(t, err)
	require.False(t, existed)

	_, ok := e.Get([]byte("foo"))
	require.False(t, ok)
}

func TestEngineSyncPersistsToDisk(t *testing.T) {
	e := newTestEngine(t, 16)
	require.NoError(t, e.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, e.Put([]byte("k2"), []byte("v2")))

	require.NoError(t, e.Sync())

	v, err := e.disk.Read([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
}

func TestEngineInvalidSizesRejected(t *testing.T) {
	e := newTestEngine(t, 16)

	require.ErrorIs(t, e.Put(nil, []byte("v")), ErrInvalidKeySize)
	require.ErrorIs(t, e.Put(make([]byte, 257), []byte("v")), ErrInvalidKeySize)
	require.ErrorIs(t, e.Put([]byte("k"), make([]byte, 1025)), ErrInvalidValueSize)
}

func TestEngineEvictionFallsThroughToDisk(t *testing.T) {
	e := newTestEngine(t, 2)

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Put([]byte("c"), []byte("3")))
	require.NoError(t, e.Sync())

	// "a" was evicted from the cache but must still be readable from disk.
	v, ok := e.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestEngineDurabilityAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	logger := log.New(io.Discard, "", 0)

	disk, err := store.Open(dir, logger)
	require.NoError(t, err)
	e, err := New(disk, Options{CacheCapacity: 16}, logger)
	require.NoError(t, err)

	require.NoError(t, e.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, e.Put([]byte("k2"), []byte("v2")))
	require.NoError(t, e.Sync())
	require.NoError(t, e.Close())

	disk2, err := store.Open(dir, logger)
	require.NoError(t, err)
	e2, err := New(disk2, Options{CacheCapacity: 16}, logger)
	require.NoError(t, err)
	defer e2.Close()

	v1, ok := e2.Get([]byte("k1"))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v1)

	v2, ok := e2.Get([]byte("k2"))
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v2)
}

func TestEngineClear(t *testing.T) {
	e := newTestEngine(t, 16)
	require.NoError(t, e.Put([]byte("foo"), []byte("bar")))
	require.NoError(t, e.Sync())

	require.NoError(t, e.Clear())

	_, ok := e.Get([]byte("foo"))
	require.False(t, ok)
	require.Equal(t, 0, e.Len())
}

func TestEngineDelPurgesPendingWrite(t *testing.T) {
	// A Del that races ahead of the write-behind worker must win: once Del
	// returns, a subsequent Sync must not resurrect the key on disk.
	e := newTestEngine(t, 16)

	require.NoError(t, e.Put([]byte("foo"), []byte("bar")))
	_, err := e.Del([]byte("foo"))
	require.NoError(t, err)

	require.NoError(t, e.Sync())

	_, err = e.disk.Read([]byte("foo"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEngineLen(t *testing.T) {
	e := newTestEngine(t, 16)
	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Sync())
	require.Equal(t, 2, e.Len())
}
