package metalog

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/calvinalkan/tdb/internal/objpos"
	"github.com/calvinalkan/tdb/internal/tdberr"
)

// ReservedCRC is the CRC field's fixed sentinel value. The field is reserved
// for a future per-record checksum and is always written as this value and
// never verified on read.
const ReservedCRC = math.MaxUint32

// objChangeSize is oid(u32) + pos(u64).
const objChangeSize = 4 + 8

// headerSize is the fixed portion of an encoded checkpoint: size(4) +
// crc(4) + data_removed_size(8) + data_size(8) + root_oid(4) + meta_size(4)
// + tablepage_nums(4) + obj_changes_len(4).
const headerSize = 4 + 4 + 8 + 8 + 4 + 4 + 4 + 4

// ObjChange is one (oid, pos) pair in a checkpoint's change list. Pos == 0
// (Pos.IsEmpty()) encodes a deletion.
type ObjChange struct {
	Oid uint32
	Pos objpos.Pos
}

// CheckPoint is one durable commit record in the meta log: bookkeeping
// counters plus the list of object-table changes that commit made.
type CheckPoint struct {
	DataRemovedSize uint64
	DataSize        uint64
	RootOid         uint32
	MetaSize        uint32
	TablePageNums   uint32
	ObjChanges      []ObjChange
}

// Size returns the exact encoded length of cp, matching the self-length
// field written into the header.
func (cp *CheckPoint) Size() uint32 {
	return uint32(headerSize + objChangeSize*len(cp.ObjChanges))
}

// DirtyPages derives the set of table page ids touched by ObjChanges.
func (cp *CheckPoint) DirtyPages(slotsPerPage uint32) []uint32 {
	seen := make(map[uint32]bool)

	var pages []uint32

	for _, c := range cp.ObjChanges {
		p := c.Oid / slotsPerPage
		if !seen[p] {
			seen[p] = true
			pages = append(pages, p)
		}
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })

	return pages
}

// Encode serializes cp as:
// size(u32) | crc(u32) | data_removed_size(u64) | data_size(u64) |
// root_oid(u32) | meta_size(u32) | tablepage_nums(u32) | obj_changes_len(u32)
// followed by obj_changes_len (oid(u32), pos(u64)) pairs.
func (cp *CheckPoint) Encode() []byte {
	n := cp.Size()
	b := make([]byte, n)

	binary.LittleEndian.PutUint32(b[0:4], n)
	binary.LittleEndian.PutUint32(b[4:8], ReservedCRC)
	binary.LittleEndian.PutUint64(b[8:16], cp.DataRemovedSize)
	binary.LittleEndian.PutUint64(b[16:24], cp.DataSize)
	binary.LittleEndian.PutUint32(b[24:28], cp.RootOid)
	binary.LittleEndian.PutUint32(b[28:32], cp.MetaSize)
	binary.LittleEndian.PutUint32(b[32:36], cp.TablePageNums)
	binary.LittleEndian.PutUint32(b[36:40], uint32(len(cp.ObjChanges)))

	off := headerSize
	for _, c := range cp.ObjChanges {
		binary.LittleEndian.PutUint32(b[off:off+4], c.Oid)
		binary.LittleEndian.PutUint64(b[off+4:off+12], uint64(c.Pos))
		off += objChangeSize
	}

	return b
}

// DecodeCheckPoint parses one checkpoint from the head of b, returning it
// and the number of bytes consumed.
func DecodeCheckPoint(b []byte) (*CheckPoint, int, error) {
	if len(b) < headerSize {
		return nil, 0, fmt.Errorf("%w: checkpoint header truncated", tdberr.ErrSerialize)
	}

	size := binary.LittleEndian.Uint32(b[0:4])
	if size == 0 {
		return nil, 0, fmt.Errorf("%w: checkpoint has zero size field", tdberr.ErrSerialize)
	}
	if uint64(size) > uint64(len(b)) {
		return nil, 0, fmt.Errorf("%w: checkpoint size %d exceeds available %d bytes", tdberr.ErrSerialize, size, len(b))
	}

	cp := &CheckPoint{
		DataRemovedSize: binary.LittleEndian.Uint64(b[8:16]),
		DataSize:        binary.LittleEndian.Uint64(b[16:24]),
		RootOid:         binary.LittleEndian.Uint32(b[24:28]),
		MetaSize:        binary.LittleEndian.Uint32(b[28:32]),
		TablePageNums:   binary.LittleEndian.Uint32(b[32:36]),
	}

	changeCount := binary.LittleEndian.Uint32(b[36:40])

	wantSize := uint32(headerSize) + changeCount*objChangeSize
	if wantSize != size {
		return nil, 0, fmt.Errorf("%w: checkpoint size field %d inconsistent with obj_changes_len %d", tdberr.ErrSerialize, size, changeCount)
	}

	off := headerSize
	for i := uint32(0); i < changeCount; i++ {
		if off+objChangeSize > len(b) {
			return nil, 0, fmt.Errorf("%w: checkpoint truncated reading obj_changes", tdberr.ErrSerialize)
		}

		oid := binary.LittleEndian.Uint32(b[off : off+4])
		pos := objpos.Pos(binary.LittleEndian.Uint64(b[off+4 : off+12]))
		cp.ObjChanges = append(cp.ObjChanges, ObjChange{Oid: oid, Pos: pos})

		off += objChangeSize
	}

	return cp, int(size), nil
}

// Merge collapses a sequence of checkpoints with the same root progression
// into one equivalent checkpoint: the last-seen position per oid, sorted by
// oid, replacing the final checkpoint's change list. The bookkeeping fields
// (DataSize, DataRemovedSize, RootOid, MetaSize, TablePageNums) are taken
// from the last checkpoint in the sequence.
func Merge(cps []*CheckPoint) *CheckPoint {
	if len(cps) == 0 {
		return &CheckPoint{}
	}

	last := cps[len(cps)-1]

	latest := make(map[uint32]objpos.Pos)
	var order []uint32

	for _, cp := range cps {
		for _, c := range cp.ObjChanges {
			if _, seen := latest[c.Oid]; !seen {
				order = append(order, c.Oid)
			}
			latest[c.Oid] = c.Pos
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	merged := &CheckPoint{
		DataRemovedSize: last.DataRemovedSize,
		DataSize:        last.DataSize,
		RootOid:         last.RootOid,
		MetaSize:        last.MetaSize,
		TablePageNums:   last.TablePageNums,
	}

	for _, oid := range order {
		merged.ObjChanges = append(merged.ObjChanges, ObjChange{Oid: oid, Pos: latest[oid]})
	}

	return merged
}
