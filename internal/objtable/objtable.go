// Package objtable implements the two-level, page-indexed object table: the
// MVCC pivot every read and write funnels through. Level one is a growable
// array of atomic page pointers; level two pages each hold SlotsPerPage
// rwlock-guarded version histories.
package objtable

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/objpos"
	"github.com/calvinalkan/tdb/internal/tdberr"
	"github.com/calvinalkan/tdb/internal/version"
)

// SlotsPerPage is the number of object ids held by one table page.
const SlotsPerPage = 512

// MaxPageNum bounds the level-one array; UNUSED_OID = 2^32-1 is reserved, so
// the last page is never fully addressable.
const MaxPageNum = (1 << 32) / SlotsPerPage

// UnusedOid is the reserved sentinel object id.
const UnusedOid = ^uint32(0)

// slot is one object id's guarded version history.
type slot struct {
	mu sync.RWMutex
	v  version.Versions
}

// Page holds SlotsPerPage slots.
type Page struct {
	slots [SlotsPerPage]slot
}

// Fetcher resolves an on-disk position to a live object and a weak handle
// suitable for installing back into the table, populating the immutable
// cache as a side effect. Implemented by internal/txn against the data log
// and immutable cache.
type Fetcher func(pos objpos.Pos, tag objpos.Tag) (object.Object, version.WeakHandle, error)

// Table is the process-wide object table.
type Table struct {
	mu          sync.Mutex // guards the pages slice: growth and every page lookup; slots have their own locks
	pages       []atomic.Pointer[Page]
	usedPageNum int
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

// PageID returns the page containing oid.
func PageID(oid uint32) uint32 { return oid / SlotsPerPage }

// SlotIndex returns oid's index within its page.
func SlotIndex(oid uint32) uint32 { return oid % SlotsPerPage }

// UsedPageNum returns the number of pages ever allocated.
func (t *Table) UsedPageNum() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usedPageNum
}

// ExtendTo lazily allocates pages so that pageID is addressable. Must only
// be called by the writer (the single-writer-mutex discipline makes this
// safe without additional synchronization beyond the pages-growth mutex).
func (t *Table) ExtendTo(pageID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(pageID) >= len(t.pages) {
		grown := make([]atomic.Pointer[Page], pageID+1)
		for i := range t.pages {
			grown[i].Store(t.pages[i].Load())
		}
		t.pages = grown
	}

	if t.pages[pageID].Load() == nil {
		t.pages[pageID].Store(&Page{})
		t.usedPageNum++
	}
}

func (t *Table) page(pageID uint32) *Page {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(pageID) >= len(t.pages) {
		panic(fmt.Sprintf("objtable: page %d not allocated", pageID))
	}

	p := t.pages[pageID].Load()
	if p == nil {
		panic(fmt.Sprintf("objtable: page %d not allocated", pageID))
	}

	return p
}

func (t *Table) slot(oid uint32) *slot {
	p := t.page(PageID(oid))
	return &p.slots[SlotIndex(oid)]
}

// Get resolves oid at ts. It takes the slot's read lock to look up the
// version; if its weak handle upgrades, it returns immediately. Otherwise
// it drops the read lock, takes the write lock, re-checks (another goroutine
// may have installed a strong reference in the meantime), and if still
// unresolved, calls fetch to read from the data log and populate the cache,
// then installs the resulting weak handle before returning.
func (t *Table) Get(oid uint32, ts uint64, fetch Fetcher) (objpos.Pos, object.Object, error) {
	s := t.slot(oid)

	s.mu.RLock()
	idx, found := s.v.FindIndexAt(ts)
	if found {
		ref := s.v.History[idx]
		if obj, ok := ref.Weak.Upgrade(); ok {
			s.mu.RUnlock()
			return ref.Pos, obj, nil
		}
	}
	s.mu.RUnlock()

	if !found {
		return 0, nil, fmt.Errorf("%w: oid %d has no version visible at ts %d", tdberr.ErrNotFound, oid, ts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, found = s.v.FindIndexAt(ts)
	if !found {
		return 0, nil, fmt.Errorf("%w: oid %d has no version visible at ts %d", tdberr.ErrNotFound, oid, ts)
	}

	ref := s.v.History[idx]

	if obj, ok := ref.Weak.Upgrade(); ok {
		return ref.Pos, obj, nil
	}

	obj, weak, err := fetch(ref.Pos, s.v.Tag)
	if err != nil {
		return 0, nil, err
	}

	s.v.SetWeakAt(idx, weak)

	return ref.Pos, obj, nil
}

// Insert adds a new version for oid. If the slot is non-empty, it first
// tries to clear obsolete back-history against minTs. Returns
// ErrOidCollision if GC debt remains (history longer than one entry after
// clearing) - the caller should re-queue oid for a later GC pass.
func (t *Table) Insert(oid uint32, ref version.ObjectRef, tag objpos.Tag, minTs uint64) error {
	s := t.slot(oid)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.v.IsClear() {
		s.v.TryClear(minTs)
	}

	s.v.Add(ref, tag)

	if s.v.Len() != 1 {
		return fmt.Errorf("%w: oid %d", tdberr.ErrOidCollision, oid)
	}

	return nil
}

// Remove closes oid's current version at ts and attempts to clear history
// against minTs. Returns ErrOidCollision if the slot is not fully clear
// afterward.
func (t *Table) Remove(oid uint32, ts, minTs uint64) error {
	s := t.slot(oid)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.MarkRemoved(ts)
	s.v.TryClear(minTs)

	if !s.v.IsClear() {
		return fmt.Errorf("%w: oid %d", tdberr.ErrOidCollision, oid)
	}

	return nil
}

// TryGC attempts to clear oid's entire history against minTs (used for a
// previously deleted oid still carrying GC debt). Returns ErrOidCollision
// if the slot is not fully clear afterward.
func (t *Table) TryGC(oid uint32, minTs uint64) error {
	s := t.slot(oid)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.TryClear(minTs)

	if !s.v.IsClear() {
		return fmt.Errorf("%w: oid %d", tdberr.ErrOidCollision, oid)
	}

	return nil
}

// OverwriteSlot replaces oid's entire version history with a single version
// spanning [0, EndOfTime), or clears the slot if pos.IsEmpty(). Used only
// during recovery reconciliation, before any reader or writer transaction
// has observed the table - oid's page must already be allocated (via
// ExtendTo or a prior InstallPage).
func (t *Table) OverwriteSlot(oid uint32, pos objpos.Pos, tag objpos.Tag) {
	s := t.slot(oid)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.v = version.Versions{}

	if !pos.IsEmpty() {
		s.v.Add(version.ObjectRef{Pos: pos, StartTs: 0, EndTs: version.EndOfTime}, tag)
	}
}

// PageSnapshot is the newest ObjectPos recorded for each slot on a page, in
// slot order, whether or not that version is still live; zero for a cleared
// slot. Serialized to the meta-table file.
type PageSnapshot [SlotsPerPage]objpos.Pos

// GetPage snapshots the newest position of every slot on pageID.
func (t *Table) GetPage(pageID uint32) PageSnapshot {
	p := t.page(pageID)

	var snap PageSnapshot

	for i := range p.slots {
		s := &p.slots[i]

		s.mu.RLock()
		if len(s.v.History) > 0 {
			snap[i] = s.v.History[0].Pos
		}
		s.mu.RUnlock()
	}

	return snap
}

// InstallPage rebuilds pageID from a recovered snapshot, one single-version
// Versions per non-empty slot at ts 0. Panics if the page was already
// allocated (recovery only ever installs into a fresh table).
func (t *Table) InstallPage(pageID uint32, snap PageSnapshot, tagOf func(objpos.Pos) objpos.Tag) {
	t.mu.Lock()
	if int(pageID) >= len(t.pages) {
		grown := make([]atomic.Pointer[Page], pageID+1)
		for i := range t.pages {
			grown[i].Store(t.pages[i].Load())
		}
		t.pages = grown
	}
	if t.pages[pageID].Load() != nil {
		t.mu.Unlock()
		panic(fmt.Sprintf("objtable: InstallPage called on already-allocated page %d", pageID))
	}

	page := &Page{}
	t.pages[pageID].Store(page)
	t.usedPageNum++
	t.mu.Unlock()

	for i := range page.slots {
		pos := snap[i]
		if pos.IsEmpty() {
			continue
		}

		s := &page.slots[i]
		s.v.Add(version.ObjectRef{Pos: pos, StartTs: 0, EndTs: version.EndOfTime}, tagOf(pos))
	}
}
