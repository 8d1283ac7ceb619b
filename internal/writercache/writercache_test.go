package writercache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/objpos"
)

func mkLeaf() *object.Leaf { return object.NewLeaf() }

func TestReadonlyPromotesToDirtyOnMutation(t *testing.T) {
	c := NewCache()
	orig := mkLeaf()
	c.InsertReadonly(1, orig)

	require.True(t, c.Contains(1))

	mut := c.GetMut(1)
	require.Equal(t, orig, mut)

	drained := c.Drain()
	e, ok := drained[1]
	require.True(t, ok)
	require.Equal(t, Dirty, e.State)
	require.Equal(t, orig.Pos(), e.PrevOnDisk)
}

func TestNewEntrySurvivesDrain(t *testing.T) {
	c := NewCache()
	leaf := mkLeaf()
	c.InsertNew(5, leaf)

	drained := c.Drain()
	e := drained[5]
	require.Equal(t, New, e.State)
	require.Equal(t, leaf, e.Obj)
}

func TestRemoveOfNewOidDropsEntirely(t *testing.T) {
	c := NewCache()
	c.InsertNew(7, mkLeaf())
	c.Remove(7, objpos.Pos(0))

	drained := c.Drain()
	_, ok := drained[7]
	require.False(t, ok)
}

func TestRemoveOfExistingOidTombstones(t *testing.T) {
	c := NewCache()
	orig := mkLeaf()
	c.InsertReadonly(3, orig)
	c.Remove(3, orig.Pos())

	drained := c.Drain()
	e := drained[3]
	require.Equal(t, Del, e.State)
	require.Nil(t, e.Obj)
	require.Equal(t, orig.Pos(), e.PrevOnDisk)
}

func TestGetMutOnDelReturnsNil(t *testing.T) {
	c := NewCache()
	c.InsertReadonly(9, mkLeaf())
	c.Remove(9, mkLeaf().Pos())

	require.Nil(t, c.GetMut(9))
	require.Nil(t, c.GetRef(9))
}

func TestDrainClearsCache(t *testing.T) {
	c := NewCache()
	c.InsertNew(1, mkLeaf())
	c.InsertReadonly(2, mkLeaf())

	first := c.Drain()
	require.Len(t, first, 1)

	second := c.Drain()
	require.Len(t, second, 0)
	require.False(t, c.Contains(1))
	require.False(t, c.Contains(2))
}

func TestReadonlyDroppedOnDrain(t *testing.T) {
	c := NewCache()
	c.InsertReadonly(1, mkLeaf())

	drained := c.Drain()
	require.Len(t, drained, 0)
}

func TestMarkRemovedOnNewDropsEntirely(t *testing.T) {
	c := NewCache()
	c.InsertNew(4, mkLeaf())
	c.MarkRemoved(4)

	drained := c.Drain()
	_, ok := drained[4]
	require.False(t, ok)
}

func TestMarkRemovedOnReadonlyTombstonesWithItsObject(t *testing.T) {
	c := NewCache()
	orig := mkLeaf()
	c.InsertReadonly(8, orig)
	c.MarkRemoved(8)

	drained := c.Drain()
	e := drained[8]
	require.Equal(t, Del, e.State)
	require.Equal(t, orig.Pos(), e.PrevOnDisk)
}

func TestMarkRemovedOnDirtyKeepsOriginalPrevOnDisk(t *testing.T) {
	c := NewCache()
	orig := mkLeaf()
	c.InsertReadonly(2, orig)
	c.GetMut(2) // promotes to Dirty, PrevOnDisk = orig.Pos()

	c.MarkRemoved(2)

	drained := c.Drain()
	e := drained[2]
	require.Equal(t, Del, e.State)
	require.Equal(t, orig.Pos(), e.PrevOnDisk)
}
