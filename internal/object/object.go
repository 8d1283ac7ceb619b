// Package object implements the three persisted node kinds of the store --
// Entry, Leaf and Branch -- their wire formats, and the copy-on-write
// split/merge/rebalance predicates the B+-tree relies on.
package object

import (
	"encoding/binary"
	"fmt"

	"github.com/calvinalkan/tdb/internal/objpos"
)

// MaxNodeSize is the maximum serialized size of a Leaf or Branch, in bytes.
const MaxNodeSize = 4096

// MaxKeyLen is the largest key accepted by an Entry or as a Branch routing
// key.
const MaxKeyLen = 255

// MaxValLen is the largest value accepted by an Entry.
const MaxValLen = (1 << 16) - 1

// Tag re-exports objpos.Tag so callers working with objects rarely need to
// import objpos directly.
type Tag = objpos.Tag

const (
	TagLeaf   = objpos.TagLeaf
	TagBranch = objpos.TagBranch
	TagEntry  = objpos.TagEntry
)

// Object is implemented by *Entry, *Leaf and *Branch.
type Object interface {
	// Pos returns the object's on-disk position, assigned at flush time.
	// Zero (Pos.IsEmpty()) before the object has ever been flushed.
	Pos() objpos.Pos
	// SetPos stamps the object's on-disk position.
	SetPos(objpos.Pos)
	// ObjTag returns the object kind.
	ObjTag() objpos.Tag
	// Size returns the current serialized size in bytes.
	Size() int
	// Encode serializes the object per its wire format.
	Encode() []byte
}

// shouldSplitThreshold returns the size above which a node must split.
func shouldSplitThreshold() int {
	return MaxNodeSize - MaxKeyLen - 4 - 1
}

// shouldMergeThreshold returns the size below which a node should be merged
// or rebalanced with a sibling.
func shouldMergeThreshold() int {
	return MaxNodeSize / 4
}

// Decode parses a node or entry from raw bytes according to tag.
func Decode(tag objpos.Tag, b []byte) (Object, error) {
	switch tag {
	case TagEntry:
		return DecodeEntry(b)
	case TagLeaf:
		return DecodeLeaf(b)
	case TagBranch:
		return DecodeBranch(b)
	default:
		return nil, fmt.Errorf("object: unknown tag %d", tag)
	}
}

func putUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func putUint16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

func getUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
func getUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func getUint16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
