package metalog

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tdb/internal/objpos"
)

func TestCheckPointRoundTrip(t *testing.T) {
	cp := &CheckPoint{
		DataRemovedSize: 111,
		DataSize:        222,
		RootOid:         7,
		MetaSize:        333,
		TablePageNums:   2,
		ObjChanges: []ObjChange{
			{Oid: 1, Pos: objpos.New(0, 10, objpos.TagEntry)},
			{Oid: 2, Pos: 0},
		},
	}

	enc := cp.Encode()
	require.Equal(t, int(cp.Size()), len(enc))

	got, n, err := DecodeCheckPoint(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), n)
	require.True(t, cmp.Equal(cp, got))
}

func TestCheckPointSizeField(t *testing.T) {
	cp := &CheckPoint{}
	require.Equal(t, uint32(headerSize), cp.Size())

	cp.ObjChanges = append(cp.ObjChanges, ObjChange{Oid: 1, Pos: 5})
	require.Equal(t, uint32(headerSize+objChangeSize), cp.Size())
}

func TestDecodeCheckPointRejectsZeroSize(t *testing.T) {
	b := make([]byte, headerSize)
	_, _, err := DecodeCheckPoint(b)
	require.Error(t, err)
}

func TestMergeLastWriteWinsSortedByOid(t *testing.T) {
	cp1 := &CheckPoint{
		RootOid: 1,
		ObjChanges: []ObjChange{
			{Oid: 5, Pos: objpos.New(0, 1, objpos.TagEntry)},
			{Oid: 2, Pos: objpos.New(0, 2, objpos.TagEntry)},
		},
	}
	cp2 := &CheckPoint{
		RootOid: 2,
		ObjChanges: []ObjChange{
			{Oid: 2, Pos: objpos.New(100, 3, objpos.TagEntry)}, // overwrites cp1's oid 2
			{Oid: 9, Pos: 0},                                   // delete
		},
	}

	merged := Merge([]*CheckPoint{cp1, cp2})

	require.Equal(t, uint32(2), merged.RootOid)
	require.Equal(t, []ObjChange{
		{Oid: 2, Pos: objpos.New(100, 3, objpos.TagEntry)},
		{Oid: 5, Pos: objpos.New(0, 1, objpos.TagEntry)},
		{Oid: 9, Pos: 0},
	}, merged.ObjChanges)
}

func TestMergeEmptyInput(t *testing.T) {
	merged := Merge(nil)
	require.Equal(t, &CheckPoint{}, merged)
}

func TestDirtyPages(t *testing.T) {
	cp := &CheckPoint{
		ObjChanges: []ObjChange{
			{Oid: 5}, {Oid: 1000}, {Oid: 6},
		},
	}

	pages := cp.DirtyPages(512)
	require.Equal(t, []uint32{0, 1}, pages)
}
