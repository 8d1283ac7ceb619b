// Package tdb is an embedded, single-writer, MVCC key-value store: a
// copy-on-write B+-tree over an append-only data log and a checkpointed meta
// log, with snapshot isolation between any number of concurrent readers and
// the single writer.
package tdb

import (
	"fmt"

	"github.com/calvinalkan/tdb/internal/fs"
	"github.com/calvinalkan/tdb/internal/txn"
)

// Options configures Open. A zero Options uses the package defaults.
type Options struct {
	// ImmutCacheCapacity is the bounded LRU capacity for the immutable
	// object cache. Non-positive uses the package default.
	ImmutCacheCapacity int

	// MetaLogMaxSize overrides the meta log's rewrite threshold. Zero uses
	// the package default (2 MiB).
	MetaLogMaxSize uint64

	// TableInitialPages pre-extends the object table to this many pages at
	// Open. Non-positive leaves the table to grow lazily.
	TableInitialPages int
}

func (o Options) toInternal() txn.Options {
	return txn.Options{
		ImmutCacheCapacity: o.ImmutCacheCapacity,
		MetaLogMaxSize:     o.MetaLogMaxSize,
		TableInitialPages:  o.TableInitialPages,
	}
}

// Store is the process-wide handle to one database directory.
type Store struct {
	s *txn.Store
}

// Open opens (creating if absent) the database directory at dir, recovering
// from the meta log and meta-table file if a prior database exists, or
// bootstrapping an empty one otherwise. Acquires an advisory whole-database
// lock for the lifetime of the returned Store; a second Open of the same
// directory from another process blocks until Close releases it.
func Open(dir string, opts Options) (*Store, error) {
	s, err := txn.Open(fs.NewReal(), dir, opts.toInternal())
	if err != nil {
		return nil, fmt.Errorf("tdb: opening %s: %w", dir, err)
	}

	return &Store{s: s}, nil
}

// Close releases the database lock and every open file handle.
func (db *Store) Close() error {
	return db.s.Close()
}

// Reader opens a new read transaction against the currently published
// snapshot. The caller must Close it once done.
func (db *Store) Reader() *Reader {
	return &Reader{r: db.s.Reader()}
}

// Writer opens the single write transaction, blocking until any other write
// transaction currently open against this store finishes. The caller must
// call Commit or Rollback exactly once.
func (db *Store) Writer() *Writer {
	return &Writer{w: db.s.Writer()}
}

// Stats is a read-only snapshot of the store's byte and page accounting.
type Stats = txn.Stats

// Stats reports the current live/removed data-log byte counts, populated
// table page count, and published (root_oid, ts).
func (db *Store) Stats() Stats {
	return db.s.Stats()
}
