// Package writercache implements the writer-side object cache: the staging
// map of per-oid object states held only while a single write transaction
// is in progress.
package writercache

import (
	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/objpos"
)

// State tags which of the four per-object states an entry is in.
type State int

const (
	// Readonly is a cached copy of an on-disk object, fetched during
	// traversal and not yet mutated.
	Readonly State = iota
	// Dirty is an in-memory mutation of an existing object.
	Dirty
	// New is an object allocated during this transaction.
	New
	// Del is a tombstoned object: it existed on disk but is being removed.
	Del
)

// Entry is one oid's writer-side state.
type Entry struct {
	State State
	Obj   object.Object // nil for Del
	// PrevOnDisk is the object's position on disk before this transaction's
	// mutation, used for removed-byte accounting. Captured as a plain value
	// at promotion time, not a reference into Obj - Obj is mutated in place
	// and later re-stamped with a new position by the data log writer, so
	// aliasing the object itself here would silently read the new position
	// instead of the old one. Empty (IsEmpty()) for New and never-promoted
	// entries.
	PrevOnDisk objpos.Pos
}

// Cache holds the uncommitted object states of one write transaction.
// Dirty/New/Del entries and Readonly entries are disjoint by oid - an oid
// is in dirties or in the readonly set, never both.
type Cache struct {
	dirties   map[uint32]*Entry
	readonlys map[uint32]*Entry
}

// NewCache returns an empty writer cache.
func NewCache() *Cache {
	return &Cache{
		dirties:   make(map[uint32]*Entry),
		readonlys: make(map[uint32]*Entry),
	}
}

// Contains reports whether oid has any staged state.
func (c *Cache) Contains(oid uint32) bool {
	if _, ok := c.dirties[oid]; ok {
		return true
	}
	_, ok := c.readonlys[oid]
	return ok
}

// GetRef returns the current object for oid for read-only access, or nil if
// absent. A Del entry returns nil.
func (c *Cache) GetRef(oid uint32) object.Object {
	if e, ok := c.dirties[oid]; ok {
		if e.State == Del {
			return nil
		}
		return e.Obj
	}
	if e, ok := c.readonlys[oid]; ok {
		return e.Obj
	}
	return nil
}

// GetMut returns a mutable handle to oid's object, promoting a Readonly
// entry to Dirty on first mutation (to_dirty). Returns nil if oid is Del or
// absent.
func (c *Cache) GetMut(oid uint32) object.Object {
	if e, ok := c.dirties[oid]; ok {
		if e.State == Del {
			return nil
		}
		return e.Obj
	}

	e, ok := c.readonlys[oid]
	if !ok {
		return nil
	}

	dirty := &Entry{State: Dirty, Obj: e.Obj, PrevOnDisk: e.Obj.Pos()}
	delete(c.readonlys, oid)
	c.dirties[oid] = dirty

	return dirty.Obj
}

// InsertReadonly stages obj fetched from disk as Readonly. No-op if oid
// already has a dirty/new/del entry.
func (c *Cache) InsertReadonly(oid uint32, obj object.Object) {
	if c.Contains(oid) {
		return
	}
	c.readonlys[oid] = &Entry{State: Readonly, Obj: obj}
}

// InsertNew stages a brand new object allocated during this transaction.
func (c *Cache) InsertNew(oid uint32, obj object.Object) {
	delete(c.readonlys, oid)
	c.dirties[oid] = &Entry{State: New, Obj: obj}
}

// InsertDirty stages obj as an explicit mutation of the object previously at
// prevOnDisk, bypassing the Readonly->Dirty promotion (used when the caller
// already mutated an object it held readonly, e.g. Entry.Update in place,
// and must supply the pre-mutation position itself since GetMut was never
// called to capture it).
func (c *Cache) InsertDirty(oid uint32, obj object.Object, prevOnDisk objpos.Pos) {
	delete(c.readonlys, oid)
	c.dirties[oid] = &Entry{State: Dirty, Obj: obj, PrevOnDisk: prevOnDisk}
}

// Remove tombstones oid. prevOnDisk is the object's last known on-disk
// position (zero/IsEmpty() if oid was New and never flushed, in which case
// the oid is simply dropped rather than tombstoned).
func (c *Cache) Remove(oid uint32, prevOnDisk objpos.Pos) {
	if e, ok := c.dirties[oid]; ok && e.State == New {
		delete(c.dirties, oid)
		return
	}

	delete(c.readonlys, oid)
	c.dirties[oid] = &Entry{State: Del, PrevOnDisk: prevOnDisk}
}

// MarkRemoved tombstones oid, deriving the correct prevOnDisk from whatever
// state oid is already in: a Dirty entry's own PrevOnDisk, a Readonly
// entry's object's position, or nothing if oid is New and never touched disk
// (in which case it is simply dropped). oid must already be staged via
// InsertReadonly, InsertNew or InsertDirty; it is a no-op otherwise.
func (c *Cache) MarkRemoved(oid uint32) {
	if e, ok := c.dirties[oid]; ok {
		switch e.State {
		case New:
			delete(c.dirties, oid)
		case Dirty, Del:
			c.dirties[oid] = &Entry{State: Del, PrevOnDisk: e.PrevOnDisk}
		}
		return
	}

	if e, ok := c.readonlys[oid]; ok {
		delete(c.readonlys, oid)
		c.dirties[oid] = &Entry{State: Del, PrevOnDisk: e.Obj.Pos()}
	}
}

// Drain yields every dirty/new/del entry for commit and clears the cache.
// Readonly entries are simply dropped, matching the source's drain
// semantics (only staged mutations participate in a commit).
func (c *Cache) Drain() map[uint32]*Entry {
	drained := c.dirties
	c.dirties = make(map[uint32]*Entry)
	c.readonlys = make(map[uint32]*Entry)
	return drained
}
