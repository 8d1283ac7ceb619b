package metalog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/tdb/internal/fs"
	"github.com/calvinalkan/tdb/internal/objpos"
	"github.com/calvinalkan/tdb/internal/tdberr"
)

// TableFileName is the meta-table file's name within the database directory.
const TableFileName = "meta_table.db"

// PageSize is the fixed size of one meta-table page: SlotsPerPage positions
// of 8 bytes each.
const PageSize = 4096

// SlotsPerPage mirrors objtable.SlotsPerPage; duplicated here (rather than
// imported) to keep this package's wire format self-contained and free of a
// dependency on the in-memory table package.
const SlotsPerPage = 512

// TablePage is a snapshot of one page's worth of object positions.
type TablePage [SlotsPerPage]objpos.Pos

// EncodeTablePage serializes a page as SlotsPerPage little-endian uint64s.
func EncodeTablePage(p TablePage) []byte {
	b := make([]byte, PageSize)
	for i, pos := range p {
		binary.LittleEndian.PutUint64(b[i*8:i*8+8], uint64(pos))
	}
	return b
}

// DecodeTablePage parses a page from its fixed PageSize encoding.
func DecodeTablePage(b []byte) (TablePage, error) {
	var p TablePage

	if len(b) != PageSize {
		return p, fmt.Errorf("%w: table page must be %d bytes, got %d", tdberr.ErrSerialize, PageSize, len(b))
	}

	for i := 0; i < SlotsPerPage; i++ {
		p[i] = objpos.Pos(binary.LittleEndian.Uint64(b[i*8 : i*8+8]))
	}

	return p, nil
}

// TableFile is the paged meta-table file: writer and reader over the same
// random-access handle.
type TableFile struct {
	fsys fs.FS
	path string
	f    fs.File
}

// OpenTableFile opens (creating if absent) the meta-table file under dir.
func OpenTableFile(fsys fs.FS, dir string) (*TableFile, error) {
	path := filepath.Join(dir, TableFileName)

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening meta table file: %w", err)
	}

	return &TableFile{fsys: fsys, path: path, f: f}, nil
}

// Close closes the underlying file handle.
func (t *TableFile) Close() error {
	return t.f.Close()
}

// WritePage flushes pageID's snapshot to its fixed file offset.
func (t *TableFile) WritePage(pageID uint32, page TablePage) error {
	enc := EncodeTablePage(page)

	if _, err := t.f.Seek(int64(pageID)*PageSize, 0); err != nil {
		return fmt.Errorf("seeking meta table file: %w", err)
	}

	n, err := t.f.Write(enc)
	if err != nil {
		return fmt.Errorf("writing meta table page %d: %w", pageID, err)
	}
	if n != len(enc) {
		return fmt.Errorf("%w: short write to meta table page %d", tdberr.ErrSerialize, pageID)
	}

	return nil
}

// Sync commits any OS-buffered writes to disk.
func (t *TableFile) Sync() error {
	if err := t.f.Sync(); err != nil {
		return fmt.Errorf("syncing meta table file: %w", err)
	}
	return nil
}

// ReadPage loads pageID's snapshot.
func (t *TableFile) ReadPage(pageID uint32) (TablePage, error) {
	var page TablePage

	buf := make([]byte, PageSize)

	if _, err := t.f.Seek(int64(pageID)*PageSize, 0); err != nil {
		return page, fmt.Errorf("seeking meta table file: %w", err)
	}

	if _, err := readFullAt(t.f, buf); err != nil {
		return page, fmt.Errorf("reading meta table page %d: %w", pageID, err)
	}

	return DecodeTablePage(buf)
}

// ReadPages loads pages [0, numPages).
func (t *TableFile) ReadPages(numPages uint32) ([]TablePage, error) {
	pages := make([]TablePage, numPages)

	for i := uint32(0); i < numPages; i++ {
		p, err := t.ReadPage(i)
		if err != nil {
			return nil, err
		}
		pages[i] = p
	}

	return pages, nil
}

func readFullAt(f fs.File, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := f.Read(buf[n:])
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
