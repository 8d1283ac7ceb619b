// Package tdberr holds the sentinel errors shared across every layer of the
// store: one var block, short lower-case messages, wrapped at call sites
// with fmt.Errorf("...: %w", err) rather than a custom error-struct
// hierarchy.
//
// I/O failures are not given a sentinel here - callers wrap *os.PathError
// and friends directly, since the stdlib errors already carry the right
// Is/As behavior.
package tdberr

import "errors"

var (
	// ErrSerialize means a record or object failed to deserialize: a zero
	// size field, a truncated read, an invalid tag, or key/value lengths
	// exceeding their declared bounds.
	ErrSerialize = errors.New("tdb: serialization error")

	// ErrNoSpace means the meta log exceeded its maximum size and a rewrite
	// was not possible.
	ErrNoSpace = errors.New("tdb: no space")

	// ErrNotFound means a B+-tree traversal landed on an object-table slot
	// that has been cleared - structural corruption, not a missing key.
	// A missing key is reported as (nil, false)/nil, never as ErrNotFound.
	ErrNotFound = errors.New("tdb: object not found")

	// ErrOidCollision is internal GC-debt signaling from objtable.Table.Insert
	// and friends. It never crosses the package boundary into a caller
	// outside internal/objtable and internal/txn.
	ErrOidCollision = errors.New("tdb: oid collision, gc debt pending")

	// ErrTxnDone means a read or write transaction was used after Close,
	// Commit, or Rollback.
	ErrTxnDone = errors.New("tdb: transaction already closed")
)
