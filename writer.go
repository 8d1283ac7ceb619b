package tdb

import "github.com/calvinalkan/tdb/internal/txn"

// Writer is the single, exclusive write transaction: every mutation is
// staged privately until Commit durably publishes it, or Rollback discards
// it. Only one Writer may be open per Store at a time; a second call to
// Store.Writer blocks until this one calls Commit or Rollback.
type Writer struct {
	w *txn.WriteTxn
}

// Get returns the value for key as staged by this transaction (including
// its own uncommitted writes), or found=false if absent.
func (w *Writer) Get(key []byte) (val []byte, found bool, err error) {
	return w.w.Get(key)
}

// Insert sets key to val, inserting a new entry if key is new or updating
// the existing one in place otherwise.
func (w *Writer) Insert(key, val []byte) error {
	return w.w.Insert(key, val)
}

// Remove deletes key, returning its value if it was present.
func (w *Writer) Remove(key []byte) (val []byte, found bool, err error) {
	return w.w.Remove(key)
}

// Commit durably publishes every change staged in this transaction.
func (w *Writer) Commit() error {
	return w.w.Commit()
}

// Rollback discards every staged change without publishing anything,
// releasing the writer slot for the next transaction.
func (w *Writer) Rollback() {
	w.w.Rollback()
}
