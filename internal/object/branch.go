package object

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/calvinalkan/tdb/internal/objpos"
	"github.com/calvinalkan/tdb/internal/tdberr"
)

// branchHeaderSize is ObjectPos(8) + key_count(1).
const branchHeaderSize = 8 + 1

// Branch is a B+-tree interior node: key_count routing keys and
// key_count+1 child object ids (each a Leaf or Branch oid).
type Branch struct {
	Keys     [][]byte
	Children []uint32
	pos      objpos.Pos
}

// NewBranch returns a branch with two children and one separating key -
// the shape produced when a root splits.
func NewBranch(key []byte, left, right uint32) *Branch {
	return &Branch{
		Keys:     [][]byte{append([]byte(nil), key...)},
		Children: []uint32{left, right},
	}
}

func (b *Branch) Pos() objpos.Pos     { return b.pos }
func (b *Branch) SetPos(p objpos.Pos) { b.pos = p }
func (b *Branch) ObjTag() objpos.Tag  { return TagBranch }

// Size returns the current serialized size.
func (b *Branch) Size() int {
	n := branchHeaderSize
	for _, k := range b.Keys {
		n += 1 + len(k)
	}
	n += 1 + 4*len(b.Children) // child_count(1) + child_oid(4)*count
	return n
}

func (b *Branch) ShouldSplit() bool {
	return b.Size() > shouldSplitThreshold()
}

func (b *Branch) ShouldMerge() bool {
	return b.Size() < shouldMergeThreshold()
}

func (b *Branch) ShouldRebalance() bool {
	return b.ShouldMerge()
}

// Search returns the index into Children of the child that covers key,
// using the ceiling convention: an exact key match routes to the child
// immediately to the right of that key.
func (b *Branch) Search(key []byte) int {
	idx := sort.Search(len(b.Keys), func(i int) bool {
		return bytes.Compare(b.Keys[i], key) >= 0
	})

	if idx < len(b.Keys) && bytes.Equal(b.Keys[idx], key) {
		return idx + 1
	}

	return idx
}

// IndexOfChild returns the position of childOid in Children, or -1.
func (b *Branch) IndexOfChild(childOid uint32) int {
	for i, c := range b.Children {
		if c == childOid {
			return i
		}
	}
	return -1
}

// InsertAfterChild inserts a new (key, childOid) pair immediately to the
// right of the existing child at childIdx - the standard bubble-up step
// after the child at childIdx has split into (childIdx, new child).
func (b *Branch) InsertAfterChild(childIdx int, key []byte, newChild uint32) {
	b.Keys = append(b.Keys, nil)
	copy(b.Keys[childIdx+1:], b.Keys[childIdx:])
	b.Keys[childIdx] = append([]byte(nil), key...)

	b.Children = append(b.Children, 0)
	copy(b.Children[childIdx+2:], b.Children[childIdx+1:])
	b.Children[childIdx+1] = newChild
}

// RemoveIndex removes routing key keyIdx and the child immediately to its
// right (children[keyIdx+1]) - the mirror of InsertAfterChild, used when a
// child is merged away.
func (b *Branch) RemoveIndex(keyIdx int) {
	b.Keys = append(b.Keys[:keyIdx], b.Keys[keyIdx+1:]...)
	b.Children = append(b.Children[:keyIdx+1], b.Children[keyIdx+2:]...)
}

// UpdateKey overwrites routing key i, used when a child's first key shifts
// due to a rebalance on its left neighbor.
func (b *Branch) UpdateKey(i int, newKey []byte) {
	b.Keys[i] = append([]byte(nil), newKey...)
}

// GetKey returns the branch's first routing key, used by an ancestor branch
// as its separator above this branch (mirrors Leaf.GetKey).
func (b *Branch) GetKey() []byte {
	if len(b.Keys) == 0 {
		return nil
	}
	return b.Keys[0]
}

// Split divides the branch at its middle key, which is promoted out of both
// halves and returned as the new separator. Returns the separator key and
// the new right sibling.
func (b *Branch) Split() ([]byte, *Branch) {
	mid := len(b.Keys) / 2
	sep := append([]byte(nil), b.Keys[mid]...)

	right := &Branch{
		Keys:     append([][]byte(nil), b.Keys[mid+1:]...),
		Children: append([]uint32(nil), b.Children[mid+1:]...),
	}

	b.Keys = b.Keys[:mid:mid]
	b.Children = b.Children[:mid+1 : mid+1]

	return sep, right
}

// Merge is the inverse of Split: b.Merge(right, sep) after
// sep, right := b.Split() reconstructs the pre-split branch.
func (b *Branch) Merge(right *Branch, sep []byte) {
	b.Keys = append(b.Keys, append([]byte(nil), sep...))
	b.Keys = append(b.Keys, right.Keys...)
	b.Children = append(b.Children, right.Children...)
}

// Rebalance redistributes keys/children evenly between b and sibling via
// the parent's current separator key (parentSep, the key between them in
// the parent), returning the new separator key the parent must install at
// that position. siblingIsRight mirrors Leaf.Rebalance's convention.
func (b *Branch) Rebalance(sibling *Branch, siblingIsRight bool, parentSep []byte) []byte {
	if siblingIsRight {
		allKeys := append(append([][]byte(nil), b.Keys...), parentSep)
		allKeys = append(allKeys, sibling.Keys...)
		allChildren := append(append([]uint32(nil), b.Children...), sibling.Children...)

		mid := len(allKeys) / 2
		newSep := allKeys[mid]

		b.Keys = allKeys[:mid]
		b.Children = allChildren[:mid+1]
		sibling.Keys = allKeys[mid+1:]
		sibling.Children = allChildren[mid+1:]

		return newSep
	}

	allKeys := append(append([][]byte(nil), sibling.Keys...), parentSep)
	allKeys = append(allKeys, b.Keys...)
	allChildren := append(append([]uint32(nil), sibling.Children...), b.Children...)

	mid := len(allKeys) / 2
	newSep := allKeys[mid]

	sibling.Keys = allKeys[:mid]
	sibling.Children = allChildren[:mid+1]
	b.Keys = allKeys[mid+1:]
	b.Children = allChildren[mid+1:]

	return newSep
}

// Encode serializes the branch as:
// ObjectPos(u64) | key_count(u8) | [key_len(u8), key_bytes]*n |
// child_count(u8) | child_oid(u32)*(n+1), zero-padded to MaxNodeSize.
func (b *Branch) Encode() []byte {
	buf := make([]byte, MaxNodeSize)

	putUint64(buf[0:8], uint64(b.pos))
	buf[8] = byte(len(b.Keys))

	n := branchHeaderSize
	for _, k := range b.Keys {
		buf[n] = byte(len(k))
		n++
		n += copy(buf[n:], k)
	}

	buf[n] = byte(len(b.Children))
	n++

	for _, c := range b.Children {
		putUint32(buf[n:n+4], c)
		n += 4
	}

	return buf
}

// DecodeBranch parses a branch from its fixed MaxNodeSize encoding.
func DecodeBranch(buf []byte) (*Branch, error) {
	if len(buf) != MaxNodeSize {
		return nil, fmt.Errorf("%w: branch must be %d bytes, got %d", tdberr.ErrSerialize, MaxNodeSize, len(buf))
	}

	pos := objpos.Pos(getUint64(buf[0:8]))
	keyCount := int(buf[8])

	br := &Branch{pos: pos}
	n := branchHeaderSize

	for i := 0; i < keyCount; i++ {
		if n >= MaxNodeSize {
			return nil, fmt.Errorf("%w: branch truncated at key %d", tdberr.ErrSerialize, i)
		}

		keyLen := int(buf[n])
		n++

		if n+keyLen > MaxNodeSize {
			return nil, fmt.Errorf("%w: branch truncated reading key %d", tdberr.ErrSerialize, i)
		}

		br.Keys = append(br.Keys, append([]byte(nil), buf[n:n+keyLen]...))
		n += keyLen
	}

	if n >= MaxNodeSize {
		return nil, fmt.Errorf("%w: branch truncated before child_count", tdberr.ErrSerialize)
	}

	childCount := int(buf[n])
	n++

	if childCount != keyCount+1 {
		return nil, fmt.Errorf("%w: branch child_count %d != key_count+1 %d", tdberr.ErrSerialize, childCount, keyCount+1)
	}

	for i := 0; i < childCount; i++ {
		if n+4 > MaxNodeSize {
			return nil, fmt.Errorf("%w: branch truncated reading child %d", tdberr.ErrSerialize, i)
		}

		br.Children = append(br.Children, getUint32(buf[n:n+4]))
		n += 4
	}

	return br, nil
}
