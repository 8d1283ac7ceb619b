package metalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tdb/internal/fs"
	"github.com/calvinalkan/tdb/internal/objpos"
)

func TestAppendAndReadCheckpoints(t *testing.T) {
	dir := t.TempDir()
	fsys := fs.NewReal()

	w, err := OpenLogWriter(fsys, dir)
	require.NoError(t, err)
	defer w.Close()

	cp1 := &CheckPoint{RootOid: 1, ObjChanges: []ObjChange{{Oid: 1, Pos: objpos.New(0, 10, objpos.TagEntry)}}}
	cp2 := &CheckPoint{RootOid: 2, ObjChanges: []ObjChange{{Oid: 2, Pos: objpos.New(100, 10, objpos.TagEntry)}}}

	require.NoError(t, w.Append(cp1))
	require.NoError(t, w.Append(cp2))

	got, err := ReadCheckpoints(fsys, dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint32(1), got[0].RootOid)
	require.Equal(t, uint32(2), got[1].RootOid)
}

func TestReadCheckpointsMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	got, err := ReadCheckpoints(fs.NewReal(), dir)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestReadCheckpointsDiscardsBeforeBoundary(t *testing.T) {
	dir := t.TempDir()
	fsys := fs.NewReal()

	w, err := OpenLogWriter(fsys, dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(&CheckPoint{RootOid: 1, ObjChanges: []ObjChange{{Oid: 1, Pos: 5}}}))
	require.NoError(t, w.Append(&CheckPoint{RootOid: 2})) // empty changes => boundary
	require.NoError(t, w.Append(&CheckPoint{RootOid: 3, ObjChanges: []ObjChange{{Oid: 3, Pos: 7}}}))

	got, err := ReadCheckpoints(fsys, dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint32(2), got[0].RootOid)
	require.Equal(t, uint32(3), got[1].RootOid)
}

func TestWouldExceed(t *testing.T) {
	dir := t.TempDir()
	fsys := fs.NewReal()

	w, err := OpenLogWriter(fsys, dir)
	require.NoError(t, err)
	defer w.Close()

	require.False(t, w.WouldExceed(100))

	w.size = MaxFileSize - 10
	require.True(t, w.WouldExceed(100))
}

func TestRewriteEmptyThenAppend(t *testing.T) {
	dir := t.TempDir()
	fsys := fs.NewReal()

	w, err := OpenLogWriter(fsys, dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(&CheckPoint{RootOid: 1, ObjChanges: []ObjChange{{Oid: 1, Pos: 5}}}))
	require.NoError(t, w.RewriteEmpty(&CheckPoint{RootOid: 1, DataSize: 4096}))

	require.Less(t, w.Size(), uint64(MaxFileSize))

	require.NoError(t, w.Append(&CheckPoint{RootOid: 2, ObjChanges: []ObjChange{{Oid: 2, Pos: 9}}}))

	got, err := ReadCheckpoints(fsys, dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint32(1), got[0].RootOid)
	require.Equal(t, uint32(2), got[1].RootOid)
}

// TestRewriteEmptyRenameFailureKeepsPreviousLogAuthoritative forces the
// rename step of RewriteEmpty to fail and checks that the pre-rewrite log
// is left intact and the writer keeps appending to it, per RewriteEmpty's
// documented contract.
func TestRewriteEmptyRenameFailureKeepsPreviousLogAuthoritative(t *testing.T) {
	dir := t.TempDir()
	real := fs.NewReal()

	w, err := OpenLogWriter(real, dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(&CheckPoint{RootOid: 1, ObjChanges: []ObjChange{{Oid: 1, Pos: 5}}}))

	chaos := fs.NewChaos(real, 1, fs.ChaosConfig{RenameFailRate: 1})
	w.fsys = chaos

	err = w.RewriteEmpty(&CheckPoint{RootOid: 1, DataSize: 4096})
	require.Error(t, err)
	require.True(t, fs.IsChaosErr(err))

	w.fsys = real

	require.NoError(t, w.Append(&CheckPoint{RootOid: 2, ObjChanges: []ObjChange{{Oid: 2, Pos: 9}}}))

	got, err := ReadCheckpoints(real, dir)
	require.NoError(t, err)
	require.Len(t, got, 2, "the failed rewrite must not have discarded the original checkpoint")
	require.Equal(t, uint32(1), got[0].RootOid)
	require.Equal(t, uint32(2), got[1].RootOid)
}
