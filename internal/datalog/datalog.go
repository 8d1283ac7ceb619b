// Package datalog implements the append-only data log: the file holding
// every serialized Leaf, Branch and Entry object. Branches and leaves are
// fixed 4 KiB and DATA_ALIGN-aligned so a reader can satisfy them with a
// single sector read; entries are variable-length and packed without
// per-object padding.
package datalog

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/calvinalkan/tdb/internal/fs"
	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/objpos"
	"github.com/calvinalkan/tdb/internal/tdberr"
	"github.com/calvinalkan/tdb/internal/writercache"
)

// Align is DATA_ALIGN: the byte boundary every non-entry object's end (and
// every commit's tail) is padded to.
const Align = 4096

// FileName is the data log's file name within the database directory.
const FileName = "data_log_file.db"

// Reader is a random-access reader over the data log. Safe for
// concurrent use; each call takes an internal lock around the
// seek-then-read pair since seeking is stateful on the underlying file
// descriptor.
type Reader struct {
	mu sync.Mutex
	f  fs.File
}

// OpenReader opens path for random-access reads.
func OpenReader(fsys fs.FS, path string) (*Reader, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening data log for read: %w", err)
	}
	return &Reader{f: f}, nil
}

// Close closes the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ReadObj seeks to pos.Offset() and deserializes pos.Length() bytes
// according to pos.Tag().
func (r *Reader) ReadObj(pos objpos.Pos) (object.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := make([]byte, pos.Length())

	if _, err := r.f.Seek(int64(pos.Offset()), 0); err != nil {
		return nil, fmt.Errorf("seeking data log: %w", err)
	}

	if _, err := readFull(r.f, buf); err != nil {
		return nil, fmt.Errorf("reading data log at %s: %w", pos, err)
	}

	obj, err := object.Decode(pos.Tag(), buf)
	if err != nil {
		return nil, err
	}

	return obj, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, fmt.Errorf("%w: short read", tdberr.ErrSerialize)
		}
	}
	return n, nil
}

// Writer is the append-only writer half of the data log, tracking
// running (current_size, removed_size) counters across commits.
type Writer struct {
	mu          sync.Mutex
	f           fs.File
	currentSize uint64
	removedSize uint64
}

// OpenWriter opens path for appending. currentSize/removedSize should be
// initialized from the last recovered checkpoint via SetSizes.
func OpenWriter(fsys fs.FS, path string) (*Writer, error) {
	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening data log for write: %w", err)
	}
	return &Writer{f: f}, nil
}

// Close closes the underlying file handle.
func (w *Writer) Close() error {
	return w.f.Close()
}

// SetSizes initializes the running counters, used during recovery to
// resume from the last checkpoint's byte accounting.
func (w *Writer) SetSizes(current, removed uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentSize = current
	w.removedSize = removed
}

// Sizes returns the current (current_size, removed_size) counters.
func (w *Writer) Sizes() (current, removed uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentSize, w.removedSize
}

// WriteBatch performs the two-pass commit write: every non-entry dirty/new
// object first (each padded to Align), then every entry dirty/new object
// packed without padding, then a final tail pad to Align. Every written
// object has SetPos called on it with its newly assigned position. Returns
// the updated (current_size, removed_size).
//
// oids is iterated in ascending order so the on-disk layout is deterministic
// across runs with the same input, even though no stable key ordering on
// disk is otherwise required.
func (w *Writer) WriteBatch(drained map[uint32]*writercache.Entry) (current, removed uint64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	oids := make([]uint32, 0, len(drained))
	for oid := range drained {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	// Pass 1: non-entry objects, each aligned.
	for _, oid := range oids {
		e := drained[oid]
		if e.State == writercache.Del || e.Obj == nil || e.Obj.ObjTag() == object.TagEntry {
			continue
		}

		if err := w.writeAligned(e.Obj); err != nil {
			return w.currentSize, w.removedSize, err
		}
	}

	// Pass 2: entry objects, packed.
	for _, oid := range oids {
		e := drained[oid]
		if e.State == writercache.Del || e.Obj == nil || e.Obj.ObjTag() != object.TagEntry {
			continue
		}

		if err := w.writePacked(e.Obj); err != nil {
			return w.currentSize, w.removedSize, err
		}
	}

	// Tail pad.
	if pad := padTo(w.currentSize, Align); pad > 0 {
		if err := w.writeZeros(pad); err != nil {
			return w.currentSize, w.removedSize, err
		}
	}

	// Removed-byte accounting: every Dirty/Del entry's previous on-disk
	// footprint is now dead.
	for _, oid := range oids {
		e := drained[oid]
		if !e.PrevOnDisk.IsEmpty() {
			w.removedSize += uint64(e.PrevOnDisk.Length())
		}
	}

	return w.currentSize, w.removedSize, nil
}

func (w *Writer) writeAligned(obj object.Object) error {
	enc := obj.Encode()

	pos := objpos.New(w.currentSize, uint32(len(enc)), obj.ObjTag())
	obj.SetPos(pos)

	if err := w.writeAt(enc); err != nil {
		return err
	}

	if pad := padTo(w.currentSize, Align); pad > 0 {
		if err := w.writeZeros(pad); err != nil {
			return err
		}
	}

	return nil
}

func (w *Writer) writePacked(obj object.Object) error {
	enc := obj.Encode()

	pos := objpos.New(w.currentSize, uint32(len(enc)), obj.ObjTag())
	obj.SetPos(pos)

	return w.writeAt(enc)
}

func (w *Writer) writeAt(b []byte) error {
	n, err := w.f.Write(b)
	w.currentSize += uint64(n)

	if err != nil {
		return fmt.Errorf("writing data log: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: short write to data log", tdberr.ErrSerialize)
	}

	return nil
}

func (w *Writer) writeZeros(n uint64) error {
	zeros := make([]byte, n)
	return w.writeAt(zeros)
}

// Flush commits any OS-buffered writes to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing data log: %w", err)
	}
	return nil
}

func padTo(size uint64, align uint64) uint64 {
	rem := size % align
	if rem == 0 {
		return 0
	}
	return align - rem
}
