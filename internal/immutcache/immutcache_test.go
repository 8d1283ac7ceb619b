package immutcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/objpos"
)

func eventually(t *testing.T, f func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f() {
			return
		}
		time.Sleep(time.Millisecond)
	}

	require.Fail(t, "condition never became true")
}

func TestInsertAndLookup(t *testing.T) {
	c := New(16)
	defer c.Close()

	leaf := object.NewLeaf()
	pos := objpos.New(0, 4096, objpos.TagLeaf)

	c.Insert(pos, leaf)

	eventually(t, func() bool {
		got, ok := c.Lookup(pos)
		return ok && got == object.Object(leaf)
	})
}

func TestEntriesAreNeverCached(t *testing.T) {
	c := New(16)
	defer c.Close()

	e, err := object.NewEntry([]byte("k"), []byte("v"))
	require.NoError(t, err)
	pos := objpos.New(0, uint32(e.Size()), objpos.TagEntry)

	c.Insert(pos, e)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Lookup(pos)
	require.False(t, ok)
}

func TestRemoveAndClear(t *testing.T) {
	c := New(16)
	defer c.Close()

	leaf := object.NewLeaf()
	pos := objpos.New(0, 4096, objpos.TagLeaf)

	c.Insert(pos, leaf)
	eventually(t, func() bool {
		_, ok := c.Lookup(pos)
		return ok
	})

	c.Remove(pos)
	eventually(t, func() bool {
		_, ok := c.Lookup(pos)
		return !ok
	})

	c.Insert(pos, leaf)
	eventually(t, func() bool {
		_, ok := c.Lookup(pos)
		return ok
	})

	c.Clear()
	eventually(t, func() bool {
		_, ok := c.Lookup(pos)
		return !ok
	})
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(4)
	c.Close()
	c.Close()
}
