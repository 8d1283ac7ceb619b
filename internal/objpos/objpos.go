// Package objpos implements the packed on-disk position descriptor shared by
// every object reference: a byte offset into the data log, a length, and a
// tag, packed into a single uint64.
package objpos

import "fmt"

// Tag identifies the kind of object a Pos refers to.
type Tag uint8

const (
	TagLeaf Tag = iota
	TagBranch
	TagEntry
)

func (t Tag) String() string {
	switch t {
	case TagLeaf:
		return "leaf"
	case TagBranch:
		return "branch"
	case TagEntry:
		return "entry"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

const (
	// MaxDatabaseSize is the largest byte offset representable, 2^44.
	MaxDatabaseSize = 1 << 44
	// MaxObjectSize is the largest single object length representable, 2^20.
	MaxObjectSize = 1 << 20

	lenBits = 20
	tagBits = 3

	lenMask = (uint64(1) << lenBits) - 1
	tagMask = (uint64(1) << tagBits) - 1
)

// Pos is a packed {offset, length, tag} descriptor: the low 20 bits hold the
// length, the next 3 bits hold the tag, and the remaining high bits hold the
// byte offset within the data log.
//
// The zero value denotes an empty/deleted position (see [Pos.IsEmpty]); it
// never names a live object.
type Pos uint64

// New packs offset, length and tag into a Pos.
//
// Panics if offset or length exceed their representable ranges - callers are
// expected to have already validated object and database size limits before
// reaching this layer.
func New(offset uint64, length uint32, tag Tag) Pos {
	if offset >= MaxDatabaseSize {
		panic("objpos: offset exceeds MaxDatabaseSize")
	}
	if uint64(length) > MaxObjectSize {
		panic("objpos: length exceeds MaxObjectSize")
	}
	if uint64(tag) > tagMask {
		panic("objpos: tag out of range")
	}

	return Pos((offset << (lenBits + tagBits)) | (uint64(tag) << lenBits) | (uint64(length) & lenMask))
}

// Offset returns the byte offset component.
func (p Pos) Offset() uint64 {
	return uint64(p) >> (lenBits + tagBits)
}

// Length returns the length component.
func (p Pos) Length() uint32 {
	return uint32(uint64(p) & lenMask)
}

// Tag returns the tag component.
func (p Pos) Tag() Tag {
	return Tag((uint64(p) >> lenBits) & tagMask)
}

// IsEmpty reports whether p is the all-zero sentinel used to encode a
// deletion in a checkpoint's change list.
func (p Pos) IsEmpty() bool {
	return p == 0
}

// AddLen returns a copy of p with its length increased by delta, keeping
// offset and tag unchanged. Used by in-place node edits to track a running
// serialized size before the final position is assigned.
func (p Pos) AddLen(delta uint32) Pos {
	return New(p.Offset(), p.Length()+delta, p.Tag())
}

// SubLen is the inverse of [Pos.AddLen].
func (p Pos) SubLen(delta uint32) Pos {
	return New(p.Offset(), p.Length()-delta, p.Tag())
}

func (p Pos) String() string {
	if p.IsEmpty() {
		return "objpos(empty)"
	}
	return fmt.Sprintf("objpos(offset=%d,length=%d,tag=%s)", p.Offset(), p.Length(), p.Tag())
}
