package txn

import (
	"bytes"
	"fmt"

	"github.com/calvinalkan/tdb/internal/bplustree"
	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/tdberr"
)

// ReadTxn is a snapshot read transaction: a (root_oid, ts) pair captured at
// creation, pinned against GC until Close. Every read sees exactly the
// state published at that moment, regardless of any writer committing
// concurrently.
type ReadTxn struct {
	store   *Store
	rootOid uint32
	ts      uint64
	closed  bool
}

// Reader opens a new read transaction against the currently published
// snapshot.
func (s *Store) Reader() *ReadTxn {
	rootOid, ts := s.snapshot()
	s.registerReader(ts)
	return &ReadTxn{store: s, rootOid: rootOid, ts: ts}
}

func (r *ReadTxn) accessor() *roAccessor {
	return &roAccessor{resolve: func(oid uint32) (object.Object, error) {
		return r.store.resolveAt(oid, r.ts)
	}}
}

func (r *ReadTxn) getEntry(oid uint32) (*object.Entry, error) {
	obj, err := r.store.resolveAt(oid, r.ts)
	if err != nil {
		return nil, err
	}
	entry, ok := obj.(*object.Entry)
	if !ok {
		return nil, fmt.Errorf("txn: oid %d is not an entry", oid)
	}
	return entry, nil
}

// Get returns the value for key, or found=false if absent.
func (r *ReadTxn) Get(key []byte) (val []byte, found bool, err error) {
	if r.closed {
		return nil, false, tdberr.ErrTxnDone
	}

	entryOid, found, err := bplustree.Search(r.accessor(), r.rootOid, key)
	if err != nil || !found {
		return nil, false, err
	}

	entry, err := r.getEntry(entryOid)
	if err != nil {
		return nil, false, err
	}

	return entry.Val, true, nil
}

// GetMin returns the lowest (key, value) pair in the database.
func (r *ReadTxn) GetMin() (key, val []byte, found bool, err error) {
	if r.closed {
		return nil, nil, false, tdberr.ErrTxnDone
	}

	k, oid, found, err := bplustree.GetMin(r.accessor(), r.rootOid)
	if err != nil || !found {
		return nil, nil, false, err
	}

	entry, err := r.getEntry(oid)
	if err != nil {
		return nil, nil, false, err
	}

	return k, entry.Val, true, nil
}

// GetMax returns the highest (key, value) pair in the database.
func (r *ReadTxn) GetMax() (key, val []byte, found bool, err error) {
	if r.closed {
		return nil, nil, false, tdberr.ErrTxnDone
	}

	k, oid, found, err := bplustree.GetMax(r.accessor(), r.rootOid)
	if err != nil || !found {
		return nil, nil, false, err
	}

	entry, err := r.getEntry(oid)
	if err != nil {
		return nil, nil, false, err
	}

	return k, entry.Val, true, nil
}

// Range returns an iterator over every key in [start, end). A nil start
// begins at the lowest key; a nil end has no upper bound.
func (r *ReadTxn) Range(start, end []byte) *RangeIter {
	return &RangeIter{r: r, start: start, end: end}
}

// RangeIter walks keys in ascending order. It holds a path-stack cursor
// ([bplustree.Iter]) positioned at the last leaf visited, so advancing to
// the next key backtracks only as far up the tree as necessary rather than
// re-descending from the root on every call. This is safe because a
// ReadTxn's (rootOid, ts) pair is fixed for its whole lifetime - the nodes
// the cursor has already visited never change under it.
type RangeIter struct {
	r     *ReadTxn
	start []byte
	end   []byte
	it    *bplustree.Iter
	done  bool
}

// Next advances the iterator, returning found=false once the range (or the
// whole tree) is exhausted.
func (it *RangeIter) Next() (key, val []byte, found bool, err error) {
	if it.done || it.r.closed {
		return nil, nil, false, nil
	}

	if it.it == nil {
		it.it, err = bplustree.NewIter(it.r.accessor(), it.r.rootOid, it.start)
		if err != nil {
			return nil, nil, false, err
		}
	}

	k, eoid, found, err := it.it.Next()
	if err != nil || !found {
		it.done = true
		return nil, nil, false, err
	}

	if it.end != nil && bytes.Compare(k, it.end) >= 0 {
		it.done = true
		return nil, nil, false, nil
	}

	entry, err := it.r.getEntry(eoid)
	if err != nil {
		return nil, nil, false, err
	}

	return k, entry.Val, true, nil
}

// Close releases this transaction's pin on its snapshot ts, allowing the
// store to garbage-collect versions no longer visible to any reader.
func (r *ReadTxn) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.store.releaseReader(r.ts)
}
