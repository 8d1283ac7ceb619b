package datalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tdb/internal/fs"
	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/objpos"
	"github.com/calvinalkan/tdb/internal/writercache"
)

func TestWriteBatchThenReadBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	fsys := fs.NewReal()

	w, err := OpenWriter(fsys, path)
	require.NoError(t, err)
	defer w.Close()

	leaf := object.NewLeaf()
	leaf.InsertNonFull([]byte("a"), 1)

	entry, err := object.NewEntry([]byte("a"), []byte("value"))
	require.NoError(t, err)

	drained := map[uint32]*writercache.Entry{
		1: {State: writercache.New, Obj: leaf},
		2: {State: writercache.New, Obj: entry},
	}

	current, removed, err := w.WriteBatch(drained)
	require.NoError(t, err)
	require.Equal(t, uint64(0), removed)
	require.Equal(t, uint64(0), current%Align)
	require.NoError(t, w.Flush())

	r, err := OpenReader(fsys, path)
	require.NoError(t, err)
	defer r.Close()

	gotLeaf, err := r.ReadObj(leaf.Pos())
	require.NoError(t, err)
	require.Equal(t, leaf, gotLeaf)

	gotEntry, err := r.ReadObj(entry.Pos())
	require.NoError(t, err)
	require.Equal(t, entry, gotEntry)
}

func TestWriteBatchAlignsNonEntryObjects(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	fsys := fs.NewReal()

	w, err := OpenWriter(fsys, path)
	require.NoError(t, err)
	defer w.Close()

	leaf1 := object.NewLeaf()
	leaf2 := object.NewLeaf()

	drained := map[uint32]*writercache.Entry{
		1: {State: writercache.New, Obj: leaf1},
		2: {State: writercache.New, Obj: leaf2},
	}

	_, _, err = w.WriteBatch(drained)
	require.NoError(t, err)

	require.Equal(t, uint64(0), leaf1.Pos().Offset()%Align)
	require.Equal(t, uint64(Align), leaf2.Pos().Offset())
}

func TestWriteBatchTracksRemovedSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	fsys := fs.NewReal()

	w, err := OpenWriter(fsys, path)
	require.NoError(t, err)
	defer w.Close()

	oldEntry, err := object.NewEntry([]byte("k"), []byte("old"))
	require.NoError(t, err)
	oldEntry.SetPos(objpos.New(0, uint32(oldEntry.Size()), objpos.TagEntry)) // simulate a prior flush

	newEntry, err := object.NewEntry([]byte("k"), []byte("newvalue"))
	require.NoError(t, err)

	drained := map[uint32]*writercache.Entry{
		1: {State: writercache.Dirty, Obj: newEntry, PrevOnDisk: oldEntry.Pos()},
	}

	_, removed, err := w.WriteBatch(drained)
	require.NoError(t, err)
	require.Equal(t, uint64(oldEntry.Pos().Length()), removed)
}

// TestWriteBatchWriteFailureLeavesPriorBatchReadable simulates a crash
// mid-write: one batch commits normally, a second batch hits an injected
// write failure, and a fresh reader must still see exactly the first
// batch's objects.
func TestWriteBatchWriteFailureLeavesPriorBatchReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	real := fs.NewReal()

	w, err := OpenWriter(real, path)
	require.NoError(t, err)

	firstEntry, err := object.NewEntry([]byte("a"), []byte("value"))
	require.NoError(t, err)

	current, _, err := w.WriteBatch(map[uint32]*writercache.Entry{
		1: {State: writercache.New, Obj: firstEntry},
	})
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	chaos := fs.NewChaos(real, 1, fs.ChaosConfig{WriteFailRate: 1})

	w2, err := OpenWriter(chaos, path)
	require.NoError(t, err)

	secondEntry, err := object.NewEntry([]byte("b"), []byte("other"))
	require.NoError(t, err)

	_, _, err = w2.WriteBatch(map[uint32]*writercache.Entry{
		2: {State: writercache.New, Obj: secondEntry},
	})
	require.Error(t, err)
	require.True(t, fs.IsChaosErr(err))
	_ = w2.Close()

	r, err := OpenReader(real, path)
	require.NoError(t, err)
	defer r.Close()

	gotFirst, err := r.ReadObj(firstEntry.Pos())
	require.NoError(t, err)
	require.Equal(t, firstEntry, gotFirst)

	info, err := real.Stat(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, info.Size(), int64(current), "the successfully flushed first batch must still be on disk")
}
