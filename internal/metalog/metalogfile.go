package metalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/tdb/internal/fs"
	"github.com/calvinalkan/tdb/internal/tdberr"
)

// FileName is the meta log's file name within the database directory.
const FileName = "meta_log_file.db"

// tempFileName is the staging file used during a rewrite-via-rename.
const tempFileName = "meta_log_file_temp.db"

// MaxFileSize is the meta log's cumulative size cap (2 MiB); once a commit's
// checkpoint append would exceed it, the writer rewrites the log instead.
const MaxFileSize = 1 << 21

// LogWriter appends checkpoints to the meta log file.
type LogWriter struct {
	fsys    fs.FS
	dir     string
	f       fs.File
	size    uint64
	maxSize uint64
}

// OpenLogWriter opens (creating if absent) the meta log file under dir.
func OpenLogWriter(fsys fs.FS, dir string) (*LogWriter, error) {
	path := filepath.Join(dir, FileName)

	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening meta log for write: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat meta log: %w", err)
	}

	return &LogWriter{fsys: fsys, dir: dir, f: f, size: uint64(info.Size()), maxSize: MaxFileSize}, nil
}

// SetMaxSize overrides the size cap WouldExceed checks against, for
// embedders that want a rewrite threshold other than MaxFileSize (see
// internal/config). A zero value restores MaxFileSize.
func (w *LogWriter) SetMaxSize(n uint64) {
	if n == 0 {
		n = MaxFileSize
	}
	w.maxSize = n
}

// Close closes the underlying file handle.
func (w *LogWriter) Close() error {
	return w.f.Close()
}

// Size returns the meta log's current on-disk size.
func (w *LogWriter) Size() uint64 {
	return w.size
}

// WouldExceed reports whether appending a checkpoint of the given encoded
// size would push the log past its configured maximum size (MaxFileSize
// unless overridden with SetMaxSize).
func (w *LogWriter) WouldExceed(checkpointSize uint32) bool {
	return w.size+uint64(checkpointSize) > w.maxSize
}

// Append writes cp's encoding to the tail of the log and fsyncs.
func (w *LogWriter) Append(cp *CheckPoint) error {
	enc := cp.Encode()

	n, err := w.f.Write(enc)
	w.size += uint64(n)

	if err != nil {
		return fmt.Errorf("appending checkpoint: %w", err)
	}
	if n != len(enc) {
		return fmt.Errorf("%w: short write appending checkpoint", tdberr.ErrSerialize)
	}

	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing meta log: %w", err)
	}

	return nil
}

// RewriteEmpty replaces the meta log with a single checkpoint whose
// ObjChanges is empty - the recovery-boundary marker - via a temp file plus
// atomic rename. If the rename fails, the previous meta log remains
// authoritative and this writer keeps appending to it.
func (w *LogWriter) RewriteEmpty(cp *CheckPoint) error {
	boundary := &CheckPoint{
		DataRemovedSize: cp.DataRemovedSize,
		DataSize:        cp.DataSize,
		RootOid:         cp.RootOid,
		MetaSize:        0,
		TablePageNums:   cp.TablePageNums,
	}
	boundary.MetaSize = boundary.Size()

	tempPath := filepath.Join(w.dir, tempFileName)

	if err := w.fsys.WriteFileAtomic(tempPath, boundary.Encode(), 0o644); err != nil {
		return fmt.Errorf("writing temp meta log: %w", err)
	}

	finalPath := filepath.Join(w.dir, FileName)

	if err := w.f.Close(); err != nil {
		return fmt.Errorf("closing meta log before rewrite: %w", err)
	}

	if err := w.fsys.Rename(tempPath, finalPath); err != nil {
		// Previous meta log is still authoritative; reopen to keep appending.
		f, reopenErr := w.fsys.OpenFile(finalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if reopenErr == nil {
			w.f = f
		}
		return fmt.Errorf("renaming meta log: %w", err)
	}

	f, err := w.fsys.OpenFile(finalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopening meta log after rewrite: %w", err)
	}

	w.f = f
	w.size = uint64(boundary.Size())

	return nil
}

// ReadCheckpoints reads every checkpoint from the meta log file. The moment
// a checkpoint with an empty ObjChanges is seen, everything accumulated so
// far is discarded - an empty-changes checkpoint marks a post-rewrite
// boundary, not an incremental no-op.
func ReadCheckpoints(fsys fs.FS, dir string) ([]*CheckPoint, error) {
	path := filepath.Join(dir, FileName)

	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("checking meta log existence: %w", err)
	}
	if !exists {
		return nil, nil
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading meta log: %w", err)
	}

	var all []*CheckPoint

	boundary := 0

	for len(data) > 0 {
		cp, n, err := DecodeCheckPoint(data)
		if err != nil {
			return nil, err
		}

		all = append(all, cp)
		if len(cp.ObjChanges) == 0 {
			boundary = len(all) - 1
		}

		data = data[n:]
	}

	if len(all) == 0 {
		return nil, nil
	}

	return all[boundary:], nil
}
