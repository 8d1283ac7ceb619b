package tdb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *Store {
	t.Helper()
	db, err := Open(t.TempDir(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

// S1: empty round trip.
func TestEmptyRoundTrip(t *testing.T) {
	db := openDB(t)

	r := db.Reader()
	_, found, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, found)
	r.Close()

	w := db.Writer()
	require.NoError(t, w.Insert([]byte("a"), []byte("1")))
	require.NoError(t, w.Commit())

	r2 := db.Reader()
	defer r2.Close()

	val, found, err := r2.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), val)

	key, val, found, err := r2.GetMin()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("a"), key)
	require.Equal(t, []byte("1"), val)
}

// S2: update preserves history for a reader opened before the update.
func TestUpdatePreservesHistory(t *testing.T) {
	db := openDB(t)

	w := db.Writer()
	require.NoError(t, w.Insert([]byte("k"), []byte("v1")))
	require.NoError(t, w.Commit())

	r1 := db.Reader()
	defer r1.Close()

	w2 := db.Writer()
	require.NoError(t, w2.Insert([]byte("k"), []byte("v2")))
	require.NoError(t, w2.Commit())

	r2 := db.Reader()
	defer r2.Close()

	val, _, err := r2.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), val)

	val, _, err = r1.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val, "reader opened before the update must not observe it")
}

// S3: 300 keys inserted in one transaction all come back from a range scan,
// in ascending order. At 9 bytes per leaf entry these four-byte keys still
// fit in one leaf, so no split happens here; the split path is covered by
// TestManyInsertsForcesSplitAndStaysQueryable in internal/txn.
func TestSplitThreshold(t *testing.T) {
	db := openDB(t)

	w := db.Writer()
	for i := 0; i < 300; i++ {
		k := []byte(fmt.Sprintf("%04d", i))
		require.NoError(t, w.Insert(k, []byte(fmt.Sprintf("v%d", i))))
	}
	require.NoError(t, w.Commit())

	r := db.Reader()
	defer r.Close()

	it := r.Range([]byte("0000"), []byte("9999"))
	count := 0
	for {
		k, _, found, err := it.Next()
		require.NoError(t, err)
		if !found {
			break
		}
		require.Equal(t, fmt.Sprintf("%04d", count), string(k))
		count++
	}
	require.Equal(t, 300, count)
}

// S4: remove then re-insert, with removed/live byte accounting moving in
// the expected direction.
func TestRemoveThenReinsert(t *testing.T) {
	db := openDB(t)

	w := db.Writer()
	require.NoError(t, w.Insert([]byte("x"), []byte("1")))
	require.NoError(t, w.Commit())

	beforeRemove := db.Stats()

	w2 := db.Writer()
	_, found, err := w2.Remove([]byte("x"))
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, w2.Commit())

	afterRemove := db.Stats()
	require.Greater(t, afterRemove.DataRemovedSize, beforeRemove.DataRemovedSize)

	r := db.Reader()
	_, found, err = r.Get([]byte("x"))
	require.NoError(t, err)
	require.False(t, found)
	r.Close()

	w3 := db.Writer()
	require.NoError(t, w3.Insert([]byte("x"), []byte("2")))
	require.NoError(t, w3.Commit())

	afterReinsert := db.Stats()
	require.Greater(t, afterReinsert.DataSize, afterRemove.DataSize)

	r2 := db.Reader()
	defer r2.Close()
	val, found, err := r2.Get([]byte("x"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("2"), val)
}

// S5: recovery after a simulated process exit.
func TestRecovery(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(dir, Options{})
	require.NoError(t, err)

	w := db1.Writer()
	for i := 0; i < 300; i++ {
		k := []byte(fmt.Sprintf("%04d", i))
		require.NoError(t, w.Insert(k, k))
	}
	require.NoError(t, w.Commit())
	require.NoError(t, db1.Close())

	db2, err := Open(dir, Options{})
	require.NoError(t, err)
	defer db2.Close()

	r := db2.Reader()
	defer r.Close()

	it := r.Range([]byte("0000"), []byte("9999"))
	count := 0
	for {
		_, _, found, err := it.Next()
		require.NoError(t, err)
		if !found {
			break
		}
		count++
	}
	require.Equal(t, 300, count)
}

// S6: repeated small commits past the meta-log rewrite threshold stay
// correct, using a small configured MetaLogMaxSize to force the rewrite
// path quickly instead of waiting for the 2 MiB default.
func TestMetaLogRewrite(t *testing.T) {
	db, err := Open(t.TempDir(), Options{MetaLogMaxSize: 4096})
	require.NoError(t, err)
	defer db.Close()

	const n = 200
	for i := 0; i < n; i++ {
		w := db.Writer()
		k := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, w.Insert(k, k))
		require.NoError(t, w.Commit())
	}

	r := db.Reader()
	defer r.Close()

	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%04d", i))
		val, found, err := r.Get(k)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, k, val)
	}
}
