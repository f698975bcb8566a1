package pebble_test

import (
	"path/filepath"
	"testing"

	"github.com/ledgerline/ledgerd/db"
	"github.com/ledgerline/ledgerd/db/pebble"
	"github.com/ledgerline/ledgerd/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noop = func(val []byte) error {
	return nil
}

func newTestDB(t *testing.T, path string, readOnly bool) *pebble.DB {
	t.Helper()
	database, err := pebble.New(path, utils.NewNopZapLogger(), readOnly)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, database.Close())
	})
	return database
}

func TestGetPut(t *testing.T) {
	testDB := newTestDB(t, t.TempDir(), false)

	t.Run("missing key", func(t *testing.T) {
		assert.ErrorIs(t, testDB.Get([]byte("key"), noop), db.ErrKeyNotFound)
		has, err := testDB.Has([]byte("key"))
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, testDB.Put([]byte("key"), []byte("value")))
		require.NoError(t, testDB.Get([]byte("key"), func(val []byte) error {
			assert.Equal(t, "value", string(val))
			return nil
		}))
		has, err := testDB.Has([]byte("key"))
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("setting a key with a zero-length value should be allowed", func(t *testing.T) {
		require.NoError(t, testDB.Put([]byte("empty"), []byte{}))
		require.NoError(t, testDB.Get([]byte("empty"), func(val []byte) error {
			assert.Empty(t, val)
			return nil
		}))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, testDB.Delete([]byte("key")))
		assert.ErrorIs(t, testDB.Get([]byte("key"), noop), db.ErrKeyNotFound)
	})
}

func TestBatch(t *testing.T) {
	testDB := newTestDB(t, t.TempDir(), false)

	b := testDB.NewBatch()
	require.NoError(t, b.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, b.Put([]byte("k2"), []byte("v2")))
	assert.Equal(t, 8, b.Size())

	// nothing is visible before Write
	assert.ErrorIs(t, testDB.Get([]byte("k1"), noop), db.ErrKeyNotFound)

	require.NoError(t, b.Write())
	require.NoError(t, testDB.Get([]byte("k2"), func(val []byte) error {
		assert.Equal(t, "v2", string(val))
		return nil
	}))
	assert.Error(t, b.Write())
}

func TestIterator(t *testing.T) {
	testDB := newTestDB(t, t.TempDir(), false)

	for _, key := range []string{"a1", "a2", "a3", "b1"} {
		require.NoError(t, testDB.Put([]byte(key), []byte("v"+key)))
	}

	it, err := testDB.NewIterator([]byte("a"), true)
	require.NoError(t, err)

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
		val, err := it.Value()
		require.NoError(t, err)
		assert.Equal(t, "v"+string(it.Key()), string(val))
	}
	require.NoError(t, it.Close())
	assert.Equal(t, []string{"a1", "a2", "a3"}, keys)

	it, err = testDB.NewIterator(nil, false)
	require.NoError(t, err)
	require.True(t, it.Seek([]byte("a3")))
	assert.Equal(t, "a3", string(it.Key()))
	require.True(t, it.Next())
	assert.Equal(t, "b1", string(it.Key()))
	assert.False(t, it.Next())
	require.NoError(t, it.Close())
}

func TestCheckpointAndReadOnly(t *testing.T) {
	dir := t.TempDir()
	src, err := pebble.New(filepath.Join(dir, "src"), utils.NewNopZapLogger(), false)
	require.NoError(t, err)
	require.NoError(t, src.Put([]byte("key"), []byte("value")))

	dest := filepath.Join(dir, "copy")
	require.NoError(t, src.Checkpoint(dest))

	// the copy is independent of the source
	require.NoError(t, src.Put([]byte("key"), []byte("changed")))
	require.NoError(t, src.Close())

	copied := newTestDB(t, dest, true)
	require.NoError(t, copied.Get([]byte("key"), func(val []byte) error {
		assert.Equal(t, "value", string(val))
		return nil
	}))
	assert.ErrorIs(t, copied.Put([]byte("key"), []byte("x")), db.ErrReadOnly)
	assert.ErrorIs(t, copied.Delete([]byte("key")), db.ErrReadOnly)
}
