package object

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/calvinalkan/tdb/internal/objpos"
	"github.com/calvinalkan/tdb/internal/tdberr"
)

// leafHeaderSize is ObjectPos(8) + entry_count(2).
const leafHeaderSize = 8 + 2

// leafEntryOverhead is the fixed part of one leaf entry, key_len(1) +
// child_oid(4); the entry's full size adds key_bytes(variable).
const leafEntryOverhead = 1 + 4

// Leaf is a B+-tree leaf node: a sorted list of (key, entry-oid) pairs.
type Leaf struct {
	Keys     [][]byte
	Children []uint32 // entry object ids, one per key
	pos      objpos.Pos
}

// NewLeaf returns an empty, unflushed leaf.
func NewLeaf() *Leaf {
	return &Leaf{}
}

func (l *Leaf) Pos() objpos.Pos     { return l.pos }
func (l *Leaf) SetPos(p objpos.Pos) { l.pos = p }
func (l *Leaf) ObjTag() objpos.Tag  { return TagLeaf }

// Size returns the current serialized size.
func (l *Leaf) Size() int {
	n := leafHeaderSize
	for _, k := range l.Keys {
		n += leafEntryOverhead + len(k)
	}
	return n
}

// ShouldSplit reports whether the leaf has grown past the split threshold.
func (l *Leaf) ShouldSplit() bool {
	return l.Size() > shouldSplitThreshold()
}

// ShouldMerge reports whether the leaf has shrunk enough that it should be
// merged with (or rebalanced against) a sibling.
func (l *Leaf) ShouldMerge() bool {
	return l.Size() < shouldMergeThreshold()
}

// ShouldRebalance is identical in shape to ShouldMerge; kept as a distinct
// name because the B+-tree driver chooses rebalance vs merge based on
// sibling occupancy, not on this predicate alone.
func (l *Leaf) ShouldRebalance() bool {
	return l.ShouldMerge()
}

// searchIndex returns the index of key if present, and the index at which
// key would be inserted to keep Keys sorted otherwise.
func (l *Leaf) searchIndex(key []byte) (idx int, found bool) {
	idx = sort.Search(len(l.Keys), func(i int) bool {
		return bytes.Compare(l.Keys[i], key) >= 0
	})

	found = idx < len(l.Keys) && bytes.Equal(l.Keys[idx], key)

	return idx, found
}

// Search returns the entry oid for an exact key match.
func (l *Leaf) Search(key []byte) (oid uint32, found bool) {
	idx, found := l.searchIndex(key)
	if !found {
		return 0, false
	}
	return l.Children[idx], true
}

// LowerBound returns the index of the first key >= key, or len(l.Keys) if
// every key in the leaf sorts before it. Used to seed range iteration at an
// inclusive start bound.
func (l *Leaf) LowerBound(key []byte) int {
	idx, _ := l.searchIndex(key)
	return idx
}

// InsertNonFull inserts a brand new (key, entryOid) pair in sorted position.
// It must only be called for keys not already present (an existing key's
// value is updated via Entry.Update without touching the leaf).
func (l *Leaf) InsertNonFull(key []byte, entryOid uint32) {
	idx, found := l.searchIndex(key)
	if found {
		l.Children[idx] = entryOid
		return
	}

	l.Keys = append(l.Keys, nil)
	copy(l.Keys[idx+1:], l.Keys[idx:])
	l.Keys[idx] = append([]byte(nil), key...)

	l.Children = append(l.Children, 0)
	copy(l.Children[idx+1:], l.Children[idx:])
	l.Children[idx] = entryOid
}

// Remove deletes key, returning its entry oid if present.
func (l *Leaf) Remove(key []byte) (oid uint32, found bool) {
	idx, found := l.searchIndex(key)
	if !found {
		return 0, false
	}

	oid = l.Children[idx]
	l.Keys = append(l.Keys[:idx], l.Keys[idx+1:]...)
	l.Children = append(l.Children[:idx], l.Children[idx+1:]...)

	return oid, true
}

// GetKey returns the leaf's first (lowest) key, used by the parent branch as
// the separating key above this leaf.
func (l *Leaf) GetKey() []byte {
	if len(l.Keys) == 0 {
		return nil
	}
	return l.Keys[0]
}

// Split divides the leaf roughly in half, moving the upper half into a new
// right sibling. Returns the right sibling's first key (the new separator)
// and the right sibling itself.
func (l *Leaf) Split() ([]byte, *Leaf) {
	mid := len(l.Keys) / 2

	right := &Leaf{
		Keys:     append([][]byte(nil), l.Keys[mid:]...),
		Children: append([]uint32(nil), l.Children[mid:]...),
	}

	l.Keys = l.Keys[:mid:mid]
	l.Children = l.Children[:mid:mid]

	return right.GetKey(), right
}

// Merge appends right's entries onto l. l.Merge(right) after
// _, right := l.Split() reconstructs the pre-split leaf.
func (l *Leaf) Merge(right *Leaf) {
	l.Keys = append(l.Keys, right.Keys...)
	l.Children = append(l.Children, right.Children...)
}

// Rebalance redistributes entries evenly between l and sibling, where
// siblingIsRight reports whether sibling is l's right neighbor (left
// siblings only act as the rebalance partner at the end of a branch's
// child list). The caller is responsible for refreshing the parent's
// separating key from whichever node ends up on the right, since that
// node's first key is the new separator.
//
// Returns true if l's own first key changed, for callers that track l
// itself as a right-hand sibling elsewhere in the tree.
func (l *Leaf) Rebalance(sibling *Leaf, siblingIsRight bool) (leftKeyChanged bool) {
	oldFirst := l.GetKey()

	if siblingIsRight {
		all := append(append([][]byte(nil), l.Keys...), sibling.Keys...)
		allC := append(append([]uint32(nil), l.Children...), sibling.Children...)

		mid := len(all) / 2

		l.Keys = all[:mid]
		l.Children = allC[:mid]
		sibling.Keys = all[mid:]
		sibling.Children = allC[mid:]
	} else {
		all := append(append([][]byte(nil), sibling.Keys...), l.Keys...)
		allC := append(append([]uint32(nil), sibling.Children...), l.Children...)

		mid := len(all) / 2

		sibling.Keys = all[:mid]
		sibling.Children = allC[:mid]
		l.Keys = all[mid:]
		l.Children = allC[mid:]
	}

	return !bytes.Equal(oldFirst, l.GetKey())
}

// Encode serializes the leaf as:
// ObjectPos(u64) | entry_count(u16) | [key_len(u8), key_bytes, child_oid(u32)]*n
// zero-padded to MaxNodeSize.
func (l *Leaf) Encode() []byte {
	b := make([]byte, MaxNodeSize)

	putUint64(b[0:8], uint64(l.pos))
	putUint16(b[8:10], uint16(len(l.Keys)))

	n := leafHeaderSize
	for i, k := range l.Keys {
		b[n] = byte(len(k))
		n++
		n += copy(b[n:], k)
		putUint32(b[n:n+4], l.Children[i])
		n += 4
	}

	return b
}

// DecodeLeaf parses a leaf from its fixed MaxNodeSize encoding.
func DecodeLeaf(b []byte) (*Leaf, error) {
	if len(b) != MaxNodeSize {
		return nil, fmt.Errorf("%w: leaf must be %d bytes, got %d", tdberr.ErrSerialize, MaxNodeSize, len(b))
	}

	pos := objpos.Pos(getUint64(b[0:8]))
	count := int(getUint16(b[8:10]))

	l := &Leaf{pos: pos}
	n := leafHeaderSize

	for i := 0; i < count; i++ {
		if n >= MaxNodeSize {
			return nil, fmt.Errorf("%w: leaf truncated at entry %d", tdberr.ErrSerialize, i)
		}

		keyLen := int(b[n])
		n++

		if n+keyLen+4 > MaxNodeSize {
			return nil, fmt.Errorf("%w: leaf truncated reading key %d", tdberr.ErrSerialize, i)
		}

		key := append([]byte(nil), b[n:n+keyLen]...)
		n += keyLen

		oid := getUint32(b[n : n+4])
		n += 4

		l.Keys = append(l.Keys, key)
		l.Children = append(l.Children, oid)
	}

	return l, nil
}
