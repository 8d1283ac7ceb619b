// Package txn orchestrates read and write transactions: binding a B+-tree
// root and timestamp snapshot to the object table, data log, meta log and
// caches built by the sibling internal packages, and implementing the
// commit protocol that makes a write durable and visible.
package txn

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/calvinalkan/tdb/internal/bitmap"
	"github.com/calvinalkan/tdb/internal/datalog"
	"github.com/calvinalkan/tdb/internal/fs"
	"github.com/calvinalkan/tdb/internal/immutcache"
	"github.com/calvinalkan/tdb/internal/metalog"
	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/objpos"
	"github.com/calvinalkan/tdb/internal/objtable"
	"github.com/calvinalkan/tdb/internal/version"
	"github.com/calvinalkan/tdb/internal/writercache"
)

// lockFileName is the whole-database advisory lock acquired for the
// lifetime of an open Store.
const lockFileName = "tdb.lock"

// Options configures Store.Open. A zero Options uses the package defaults.
type Options struct {
	// ImmutCacheCapacity is the bounded LRU capacity for the immutable
	// object cache. Non-positive uses immutcache.DefaultCapacity.
	ImmutCacheCapacity int

	// MetaLogMaxSize overrides the meta log's rewrite threshold. Zero uses
	// metalog.MaxFileSize.
	MetaLogMaxSize uint64

	// TableInitialPages pre-extends the object table to this many pages at
	// Open, avoiding repeated growth on a database known to be large.
	// Non-positive leaves the table to grow lazily as oids are allocated.
	TableInitialPages int
}

// Store is the process-wide handle to one database directory: the object
// table, the data/meta logs, the caches, and the published (root_oid, ts)
// snapshot readers and writers bind to.
type Store struct {
	fsys fs.FS
	dir  string
	lock *fs.Lock

	table      *objtable.Table
	cache      *immutcache.Cache
	dataReader *datalog.Reader
	dataWriter *datalog.Writer
	metaWriter *metalog.LogWriter
	tableFile  *metalog.TableFile

	oidMu   sync.Mutex
	oids    *bitmap.Bitmap
	oidHint int

	ctxMu   sync.RWMutex
	rootOid uint32
	ts      uint64

	writerMu sync.Mutex

	readersMu sync.Mutex
	readers   map[uint64]int

	gcMu   sync.Mutex
	gcDebt []uint32
}

// Open opens (creating if absent) the database directory at dir, recovering
// from the meta log and meta-table file if a prior database exists, or
// bootstrapping an empty one otherwise.
func Open(fsys fs.FS, dir string, opts Options) (*Store, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("txn: creating database directory: %w", err)
	}

	locker := fs.NewLocker(fsys)

	lock, err := locker.Lock(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, fmt.Errorf("txn: acquiring database lock: %w", err)
	}

	s, err := openLocked(fsys, dir, opts, lock)
	if err != nil {
		_ = lock.Close()
		return nil, err
	}

	return s, nil
}

func openLocked(fsys fs.FS, dir string, opts Options, lock *fs.Lock) (*Store, error) {
	dataPath := filepath.Join(dir, datalog.FileName)

	if err := ensureFileExists(fsys, dataPath); err != nil {
		return nil, fmt.Errorf("txn: creating data log: %w", err)
	}

	dataReader, err := datalog.OpenReader(fsys, dataPath)
	if err != nil {
		return nil, fmt.Errorf("txn: opening data log reader: %w", err)
	}

	dataWriter, err := datalog.OpenWriter(fsys, dataPath)
	if err != nil {
		_ = dataReader.Close()
		return nil, fmt.Errorf("txn: opening data log writer: %w", err)
	}

	metaWriter, err := metalog.OpenLogWriter(fsys, dir)
	if err != nil {
		_ = dataReader.Close()
		_ = dataWriter.Close()
		return nil, fmt.Errorf("txn: opening meta log: %w", err)
	}
	metaWriter.SetMaxSize(opts.MetaLogMaxSize)

	tableFile, err := metalog.OpenTableFile(fsys, dir)
	if err != nil {
		_ = dataReader.Close()
		_ = dataWriter.Close()
		_ = metaWriter.Close()
		return nil, fmt.Errorf("txn: opening meta table file: %w", err)
	}

	s := &Store{
		fsys:       fsys,
		dir:        dir,
		lock:       lock,
		table:      objtable.New(),
		cache:      immutcache.New(opts.ImmutCacheCapacity),
		dataReader: dataReader,
		dataWriter: dataWriter,
		metaWriter: metaWriter,
		tableFile:  tableFile,
		oids:       bitmap.New(),
		readers:    make(map[uint64]int),
	}

	if err := s.recover(); err != nil {
		_ = s.closeFiles()
		return nil, err
	}

	if opts.TableInitialPages > 0 {
		s.table.ExtendTo(uint32(opts.TableInitialPages - 1))
	}

	return s, nil
}

func ensureFileExists(fsys fs.FS, path string) error {
	exists, err := fsys.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	return f.Close()
}

// recover reads the meta log and reconciles the object table, or bootstraps
// a brand new database (a single empty root leaf) if none exists yet.
func (s *Store) recover() error {
	cps, err := metalog.ReadCheckpoints(s.fsys, s.dir)
	if err != nil {
		return fmt.Errorf("txn: reading checkpoints: %w", err)
	}

	if len(cps) == 0 {
		return s.bootstrap()
	}

	merged := metalog.Merge(cps)

	pages, err := s.tableFile.ReadPages(merged.TablePageNums)
	if err != nil {
		return fmt.Errorf("txn: reading meta table pages: %w", err)
	}

	for pageID := range pages {
		s.table.InstallPage(uint32(pageID), pages[pageID], func(p objpos.Pos) objpos.Tag { return p.Tag() })
	}

	reconcile(s.table, merged)

	s.dataWriter.SetSizes(merged.DataSize, merged.DataRemovedSize)

	maxOid := uint32(0)
	for _, c := range merged.ObjChanges {
		if c.Oid+1 > maxOid {
			maxOid = c.Oid + 1
		}
	}
	s.oids.ExtendTo(int(maxOid))
	for _, c := range merged.ObjChanges {
		if !c.Pos.IsEmpty() {
			s.oids.Set(int(c.Oid), true)
		}
	}
	s.oidHint = int(maxOid)

	s.rootOid = merged.RootOid
	// Versions are rebuilt in memory from scratch on recovery: every
	// installed/reconciled slot gets exactly one version spanning
	// [0, EndOfTime). No in-memory version carries a ts above 0, so the
	// write-transaction counter can safely restart here too.
	s.ts = 0

	return nil
}

// reconcile replays a merged checkpoint's obj_changes on top of the
// meta-table-file snapshot: changes committed after the last full
// table-page flush are not yet reflected on disk and must be reapplied
// directly.
func reconcile(table *objtable.Table, merged *metalog.CheckPoint) {
	for _, c := range merged.ObjChanges {
		pageID := objtable.PageID(c.Oid)
		table.ExtendTo(pageID)
		table.OverwriteSlot(c.Oid, c.Pos, c.Pos.Tag())
	}
}

// bootstrap initializes a brand new database: one empty root leaf, written
// with the same data-log and meta-log calls a commit uses, so the meta log's
// first checkpoint already names the root leaf. That checkpoint carries one
// change, so it is not a rewrite boundary.
func (s *Store) bootstrap() error {
	oid := uint32(0)
	s.oids.ExtendTo(1)
	s.oids.Set(0, true)
	s.oidHint = 1

	s.table.ExtendTo(objtable.PageID(oid))

	leaf := object.NewLeaf()

	batch := map[uint32]*writercache.Entry{
		oid: {State: writercache.New, Obj: leaf},
	}

	current, removed, err := s.dataWriter.WriteBatch(batch)
	if err != nil {
		return fmt.Errorf("txn: writing bootstrap leaf: %w", err)
	}

	if err := s.dataWriter.Flush(); err != nil {
		return fmt.Errorf("txn: flushing bootstrap leaf: %w", err)
	}

	ref := version.ObjectRef{
		Weak:    version.NewWeakHandle(leaf.Pos(), s.cache.Lookup),
		Pos:     leaf.Pos(),
		StartTs: 0,
		EndTs:   version.EndOfTime,
	}
	if err := s.table.Insert(oid, ref, object.TagLeaf, 0); err != nil {
		return fmt.Errorf("txn: installing bootstrap leaf: %w", err)
	}

	cp := &metalog.CheckPoint{
		DataRemovedSize: removed,
		DataSize:        current,
		RootOid:         oid,
		TablePageNums:   uint32(s.table.UsedPageNum()),
		ObjChanges:      []metalog.ObjChange{{Oid: oid, Pos: leaf.Pos()}},
	}
	cp.MetaSize = cp.Size()

	if err := s.metaWriter.Append(cp); err != nil {
		return fmt.Errorf("txn: appending bootstrap checkpoint: %w", err)
	}

	s.rootOid = oid
	s.ts = 0

	return nil
}

// Close releases the database lock and every open file handle.
func (s *Store) Close() error {
	err := s.closeFiles()

	if lockErr := s.lock.Close(); lockErr != nil && err == nil {
		err = fmt.Errorf("txn: releasing database lock: %w", lockErr)
	}

	return err
}

func (s *Store) closeFiles() error {
	s.cache.Close()

	var firstErr error
	for _, c := range []func() error{s.dataReader.Close, s.dataWriter.Close, s.metaWriter.Close, s.tableFile.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// snapshot returns the currently published (root_oid, ts).
func (s *Store) snapshot() (rootOid uint32, ts uint64) {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.rootOid, s.ts
}

// publish atomically swaps the published (root_oid, ts) - the commit
// protocol's linearization point.
func (s *Store) publish(rootOid uint32, ts uint64) {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	s.rootOid = rootOid
	s.ts = ts
}

// registerReader marks ts as in use by one more open read transaction.
func (s *Store) registerReader(ts uint64) {
	s.readersMu.Lock()
	defer s.readersMu.Unlock()
	s.readers[ts]++
}

// releaseReader marks one read transaction at ts as closed.
func (s *Store) releaseReader(ts uint64) {
	s.readersMu.Lock()
	defer s.readersMu.Unlock()

	s.readers[ts]--
	if s.readers[ts] <= 0 {
		delete(s.readers, ts)
	}
}

// minTs returns the oldest ts any open reader might still need, or the
// current published ts if no readers are open (nothing older needs
// retaining).
func (s *Store) minTs() uint64 {
	s.readersMu.Lock()
	defer s.readersMu.Unlock()

	min := uint64(math.MaxUint64)
	for ts := range s.readers {
		if ts < min {
			min = ts
		}
	}

	if min == uint64(math.MaxUint64) {
		_, ts := s.snapshot()
		return ts
	}

	return min
}

// fetch implements [objtable.Fetcher]: a cache lookup, falling back to a
// data-log read that populates the immutable cache (entries excepted).
func (s *Store) fetch(pos objpos.Pos, tag objpos.Tag) (object.Object, version.WeakHandle, error) {
	if obj, ok := s.cache.Lookup(pos); ok {
		return obj, version.NewWeakHandle(pos, s.cache.Lookup), nil
	}

	obj, err := s.dataReader.ReadObj(pos)
	if err != nil {
		return nil, version.WeakHandle{}, err
	}

	if tag != object.TagEntry {
		s.cache.Insert(pos, obj)
	}

	return obj, version.NewWeakHandle(pos, s.cache.Lookup), nil
}

// resolveAt returns oid's live object at ts, fetching through the object
// table (and, on a cold slot, the data log).
func (s *Store) resolveAt(oid uint32, ts uint64) (object.Object, error) {
	_, obj, err := s.table.Get(oid, ts, s.fetch)
	return obj, err
}

// allocOid returns a fresh object id, extending the object table and the
// oid bitmap as needed.
func (s *Store) allocOid() uint32 {
	s.oidMu.Lock()
	defer s.oidMu.Unlock()

	idx, ok := s.oids.FirstZeroFromAndSet(s.oidHint)
	if !ok {
		grow := s.oids.Len() + objtable.SlotsPerPage
		s.oids.ExtendTo(grow)
		idx, ok = s.oids.FirstZeroFromAndSet(s.oidHint)
		if !ok {
			panic("txn: oid bitmap exhausted immediately after growth")
		}
	}

	s.oidHint = idx + 1
	s.table.ExtendTo(objtable.PageID(uint32(idx)))

	return uint32(idx)
}

// freeOid releases oid back to the allocator once its object-table slot has
// been fully cleared (no GC debt remaining).
func (s *Store) freeOid(oid uint32) {
	s.oidMu.Lock()
	defer s.oidMu.Unlock()

	s.oids.Set(int(oid), false)
	if int(oid) < s.oidHint {
		s.oidHint = int(oid)
	}
}

// queueGCDebt records oids whose object-table slot could not be fully
// cleared at commit time (older readers still pin a prior version); a later
// commit retries them against its own, presumably larger, min_ts.
func (s *Store) queueGCDebt(oids []uint32) {
	if len(oids) == 0 {
		return
	}

	s.gcMu.Lock()
	defer s.gcMu.Unlock()
	s.gcDebt = append(s.gcDebt, oids...)
}

// retryGCDebt attempts to clear every previously queued oid against minTs,
// freeing those that succeed and re-queuing the rest.
func (s *Store) retryGCDebt(minTs uint64) {
	s.gcMu.Lock()
	pending := s.gcDebt
	s.gcDebt = nil
	s.gcMu.Unlock()

	var still []uint32

	for _, oid := range pending {
		if err := s.table.TryGC(oid, minTs); err != nil {
			still = append(still, oid)
			continue
		}
		s.freeOid(oid)
	}

	s.queueGCDebt(still)
}

// Stats is a read-only snapshot of the store's byte and page accounting.
// Reading it has no write-path effect.
type Stats struct {
	DataSize        uint64
	DataRemovedSize uint64
	TablePageNums   int
	RootOid         uint32
	Ts              uint64
}

// Stats reports the current live/removed data-log byte counts, populated
// table page count, and published (root_oid, ts).
func (s *Store) Stats() Stats {
	current, removed := s.dataWriter.Sizes()
	rootOid, ts := s.snapshot()

	return Stats{
		DataSize:        current,
		DataRemovedSize: removed,
		TablePageNums:   s.table.UsedPageNum(),
		RootOid:         rootOid,
		Ts:              ts,
	}
}
