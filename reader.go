package tdb

import "github.com/calvinalkan/tdb/internal/txn"

// Reader is a snapshot read transaction: every call sees exactly the state
// published at the moment it was opened, regardless of any writer
// committing concurrently. Safe for concurrent use by multiple goroutines,
// since every method is read-only over an immutable snapshot.
type Reader struct {
	r *txn.ReadTxn
}

// Get returns the value for key, or found=false if absent.
func (r *Reader) Get(key []byte) (val []byte, found bool, err error) {
	return r.r.Get(key)
}

// GetMin returns the lowest (key, value) pair in the database.
func (r *Reader) GetMin() (key, val []byte, found bool, err error) {
	return r.r.GetMin()
}

// GetMax returns the highest (key, value) pair in the database.
func (r *Reader) GetMax() (key, val []byte, found bool, err error) {
	return r.r.GetMax()
}

// Range returns an iterator over every key in [start, end). A nil start
// begins at the lowest key; a nil end has no upper bound.
func (r *Reader) Range(start, end []byte) *RangeIter {
	return &RangeIter{it: r.r.Range(start, end)}
}

// Close releases this transaction's pin on its snapshot, allowing the store
// to garbage-collect versions no longer visible to any reader.
func (r *Reader) Close() {
	r.r.Close()
}

// RangeIter walks keys in ascending order over a Reader's snapshot.
type RangeIter struct {
	it *txn.RangeIter
}

// Next advances the iterator, returning found=false once the range is
// exhausted.
func (it *RangeIter) Next() (key, val []byte, found bool, err error) {
	return it.it.Next()
}
