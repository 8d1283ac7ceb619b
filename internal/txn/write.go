package txn

import (
	"fmt"
	"sort"

	"github.com/calvinalkan/tdb/internal/bplustree"
	"github.com/calvinalkan/tdb/internal/metalog"
	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/objpos"
	"github.com/calvinalkan/tdb/internal/objtable"
	"github.com/calvinalkan/tdb/internal/tdberr"
	"github.com/calvinalkan/tdb/internal/version"
	"github.com/calvinalkan/tdb/internal/writercache"
)

// WriteTxn is the single, exclusive write transaction: it holds the
// store's writer mutex for its entire lifetime, stages every mutation in a
// private writer-side cache against the snapshot it started from, and only
// makes those changes visible to anyone else on a successful Commit.
type WriteTxn struct {
	store *Store
	wc    *writercache.Cache

	root       uint32
	snapshotTs uint64 // ts every read-through-miss during this txn resolves against
	newTs      uint64 // ts this transaction will publish at on commit

	done bool // true once Commit or Rollback has run; guards reuse
}

// Writer opens the single write transaction, blocking until any other write
// transaction currently open against this store finishes.
func (s *Store) Writer() *WriteTxn {
	s.writerMu.Lock()

	rootOid, ts := s.snapshot()

	return &WriteTxn{
		store:      s,
		wc:         writercache.NewCache(),
		root:       rootOid,
		snapshotTs: ts,
		newTs:      ts + 1,
	}
}

func (w *WriteTxn) accessor() *wAccessor {
	return &wAccessor{
		wc: w.wc,
		resolve: func(oid uint32) (object.Object, error) {
			return w.store.resolveAt(oid, w.snapshotTs)
		},
		allocOid: w.store.allocOid,
	}
}

// getEntry resolves oid's entry through this transaction's own writer
// cache first, so a read sees any not-yet-committed mutation made earlier
// in the same transaction, falling back to the snapshot and staging the
// result as Readonly.
func (w *WriteTxn) getEntry(oid uint32) (*object.Entry, error) {
	if obj := w.wc.GetRef(oid); obj != nil {
		entry, ok := obj.(*object.Entry)
		if !ok {
			return nil, fmt.Errorf("txn: oid %d is not an entry", oid)
		}
		return entry, nil
	}
	if w.wc.Contains(oid) {
		return nil, fmt.Errorf("%w: oid %d already removed this transaction", tdberr.ErrNotFound, oid)
	}

	obj, err := w.store.resolveAt(oid, w.snapshotTs)
	if err != nil {
		return nil, err
	}
	entry, ok := obj.(*object.Entry)
	if !ok {
		return nil, fmt.Errorf("txn: oid %d is not an entry", oid)
	}

	w.wc.InsertReadonly(oid, entry)

	return entry, nil
}

// Get returns the value for key as staged by this transaction (including
// its own uncommitted writes), or found=false if absent.
func (w *WriteTxn) Get(key []byte) (val []byte, found bool, err error) {
	if w.done {
		return nil, false, tdberr.ErrTxnDone
	}

	entryOid, found, err := bplustree.Search(w.accessor(), w.root, key)
	if err != nil || !found {
		return nil, false, err
	}

	entry, err := w.getEntry(entryOid)
	if err != nil {
		return nil, false, err
	}

	return entry.Val, true, nil
}

// Insert sets key to val, inserting a brand new entry if key is new or
// updating the existing one in place otherwise. A new key stages the new
// entry and the B+-tree leaf holding key; an existing key stages only its
// updated entry, since the leaf still points at the same entry oid. Either
// way the change is visible to subsequent Get/Insert/Remove calls within
// this same transaction.
func (w *WriteTxn) Insert(key, val []byte) error {
	if w.done {
		return tdberr.ErrTxnDone
	}

	acc := w.accessor()

	entryOid, found, err := bplustree.Search(acc, w.root, key)
	if err != nil {
		return err
	}

	if found {
		entry, err := w.getEntry(entryOid)
		if err != nil {
			return err
		}

		prevPos := entry.Pos()
		if err := entry.Update(val); err != nil {
			return err
		}
		w.wc.InsertDirty(entryOid, entry, prevPos)

		return nil
	}

	entry, err := object.NewEntry(key, val)
	if err != nil {
		return err
	}

	entryOid = w.store.allocOid()
	w.wc.InsertNew(entryOid, entry)

	newRoot, err := bplustree.Insert(acc, w.root, key, entryOid)
	if err != nil {
		return err
	}
	w.root = newRoot

	return nil
}

// Remove deletes key, returning its value if it was present.
func (w *WriteTxn) Remove(key []byte) (val []byte, found bool, err error) {
	if w.done {
		return nil, false, tdberr.ErrTxnDone
	}

	newRoot, removedOid, found, err := bplustree.Remove(w.accessor(), w.root, key)
	if err != nil || !found {
		return nil, false, err
	}
	w.root = newRoot

	// removedOid is no longer reachable from the tree but is still resolvable
	// (its disk position and any writer-cache state are untouched) until
	// MarkRemoved tombstones it below.
	entry, err := w.getEntry(removedOid)
	if err != nil {
		return nil, false, err
	}

	w.wc.MarkRemoved(removedOid)

	return entry.Val, true, nil
}

// Rollback discards every staged change without publishing anything,
// releasing the writer slot for the next transaction.
func (w *WriteTxn) Rollback() {
	if w.done {
		return
	}
	w.done = true
	w.store.writerMu.Unlock()
}

// Commit durably publishes every change staged in this transaction,
// following the nine-step protocol: drain the writer cache, write the data
// log batch, flush it, install the resulting object-table versions
// (queuing GC debt for any oid an older reader still pins), build and
// append a checkpoint (rewriting the meta log first if it would overflow),
// and finally publish the new (root_oid, ts) snapshot.
func (w *WriteTxn) Commit() error {
	if w.done {
		return tdberr.ErrTxnDone
	}
	defer func() {
		w.done = true
		w.store.writerMu.Unlock()
	}()

	drained := w.wc.Drain()
	if len(drained) == 0 {
		// Nothing staged; still need to release the writer slot, ts does
		// not advance.
		return nil
	}

	s := w.store

	current, removed, err := s.dataWriter.WriteBatch(drained)
	if err != nil {
		return fmt.Errorf("txn: writing commit batch: %w", err)
	}
	if err := s.dataWriter.Flush(); err != nil {
		return fmt.Errorf("txn: flushing commit batch: %w", err)
	}

	minTs := s.minTs()

	var gcDebt []uint32
	var changes []metalog.ObjChange

	oids := make([]uint32, 0, len(drained))
	for oid := range drained {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	for _, oid := range oids {
		e := drained[oid]

		switch e.State {
		case writercache.Del:
			if err := s.table.Remove(oid, w.newTs, minTs); err != nil {
				gcDebt = append(gcDebt, oid)
			} else {
				s.freeOid(oid)
			}
			changes = append(changes, metalog.ObjChange{Oid: oid, Pos: objpos.Pos(0)})

		case writercache.New, writercache.Dirty:
			ref := version.ObjectRef{
				Weak:    version.NewWeakHandle(e.Obj.Pos(), s.cache.Lookup),
				Pos:     e.Obj.Pos(),
				StartTs: w.newTs,
				EndTs:   version.EndOfTime,
			}
			if err := s.table.Insert(oid, ref, e.Obj.ObjTag(), minTs); err != nil {
				gcDebt = append(gcDebt, oid)
			}
			changes = append(changes, metalog.ObjChange{Oid: oid, Pos: e.Obj.Pos()})

		case writercache.Readonly:
			// Never drained: writercache.Drain only yields dirty/new/del.
		}
	}

	s.queueGCDebt(gcDebt)

	cp := &metalog.CheckPoint{
		DataRemovedSize: removed,
		DataSize:        current,
		RootOid:         w.root,
		TablePageNums:   uint32(s.table.UsedPageNum()),
		ObjChanges:      changes,
	}
	cp.MetaSize = cp.Size()

	if s.metaWriter.WouldExceed(cp.MetaSize) {
		if err := flushDirtyTablePages(s, cp); err != nil {
			return fmt.Errorf("txn: flushing table pages before meta log rewrite: %w", err)
		}
		if err := s.metaWriter.RewriteEmpty(cp); err != nil {
			return fmt.Errorf("txn: rewriting meta log: %w", err)
		}
	} else {
		if err := s.metaWriter.Append(cp); err != nil {
			return fmt.Errorf("txn: appending checkpoint: %w", err)
		}
	}

	s.publish(w.root, w.newTs)

	s.retryGCDebt(s.minTs())

	return nil
}

// flushDirtyTablePages writes every table page touched since the last
// rewrite boundary to the meta-table file, so the rewrite's empty-ObjChanges
// boundary checkpoint (which carries no change list of its own) finds the
// full current state already durable on disk. It merges the not-yet-written
// checkpoint cp with every checkpoint already on the meta log since the last
// boundary and derives the dirty set from that merge, rather than from cp
// alone - a page last touched by an earlier commit in the same rewrite
// window would otherwise never make it to disk.
func flushDirtyTablePages(s *Store, cp *metalog.CheckPoint) error {
	cps, err := metalog.ReadCheckpoints(s.fsys, s.dir)
	if err != nil {
		return fmt.Errorf("reading checkpoints for dirty-page flush: %w", err)
	}

	merged := metalog.Merge(append(cps, cp))

	for _, pageID := range merged.DirtyPages(objtable.SlotsPerPage) {
		page := s.table.GetPage(pageID)
		if err := s.tableFile.WritePage(pageID, metalog.TablePage(page)); err != nil {
			return err
		}
	}

	return s.tableFile.Sync()
}
