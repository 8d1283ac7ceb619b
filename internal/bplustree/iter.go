package bplustree

import (
	"fmt"

	"github.com/calvinalkan/tdb/internal/object"
)

// iterFrame is one branch on the path from root to the iterator's current
// leaf, recording which child to descend into next once the subtree under
// the previous child is exhausted.
type iterFrame struct {
	branch       *object.Branch
	nextChildIdx int
}

// Iter walks (key, entry oid) pairs in ascending key order over a read-only
// snapshot of the tree, using a path stack rather than leaf sibling
// pointers: each leaf carries no next-leaf link, so moving past a leaf's
// last key means backtracking up the stack to the nearest ancestor with an
// unvisited child and descending its leftmost path back down.
type Iter struct {
	acc     Accessor
	stack   []iterFrame
	leaf    *object.Leaf
	leafIdx int
}

// NewIter seeds an iterator over root, starting at the first key >= from.
// A nil from starts at the tree's minimum key.
func NewIter(acc Accessor, root uint32, from []byte) (*Iter, error) {
	it := &Iter{acc: acc}

	oid := root

	for {
		tag, err := acc.Kind(oid)
		if err != nil {
			return nil, err
		}

		if tag == object.TagLeaf {
			leaf, err := acc.GetLeaf(oid)
			if err != nil {
				return nil, err
			}

			it.leaf = leaf
			if from != nil {
				it.leafIdx = leaf.LowerBound(from)
			}

			return it, nil
		}

		branch, err := acc.GetBranch(oid)
		if err != nil {
			return nil, err
		}

		idx := 0
		if from != nil {
			idx = branch.Search(from)
		}

		it.stack = append(it.stack, iterFrame{branch: branch, nextChildIdx: idx + 1})
		oid = branch.Children[idx]
	}
}

// descendLeftmost walks from oid down its leftmost children to the
// leftmost leaf, pushing a frame per branch visited.
func descendLeftmost(acc Accessor, oid uint32, stack []iterFrame) (*object.Leaf, []iterFrame, error) {
	for {
		tag, err := acc.Kind(oid)
		if err != nil {
			return nil, nil, err
		}

		if tag == object.TagLeaf {
			leaf, err := acc.GetLeaf(oid)
			if err != nil {
				return nil, nil, err
			}
			return leaf, stack, nil
		}

		branch, err := acc.GetBranch(oid)
		if err != nil {
			return nil, nil, err
		}

		if len(branch.Children) == 0 {
			return nil, nil, fmt.Errorf("bplustree: branch %d has no children", oid)
		}

		stack = append(stack, iterFrame{branch: branch, nextChildIdx: 1})
		oid = branch.Children[0]
	}
}

// Next returns the next (key, entry oid) pair, or found=false once the
// iterator is exhausted.
func (it *Iter) Next() (key []byte, entryOid uint32, found bool, err error) {
	for {
		if it.leaf != nil && it.leafIdx < len(it.leaf.Keys) {
			key = it.leaf.Keys[it.leafIdx]
			entryOid = it.leaf.Children[it.leafIdx]
			it.leafIdx++
			return key, entryOid, true, nil
		}

		// Current leaf exhausted: pop ancestors until one still has an
		// unvisited child.
		advanced := false

		for len(it.stack) > 0 {
			top := &it.stack[len(it.stack)-1]

			if top.nextChildIdx >= len(top.branch.Children) {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}

			childOid := top.branch.Children[top.nextChildIdx]
			top.nextChildIdx++

			leaf, newStack, derr := descendLeftmost(it.acc, childOid, it.stack)
			if derr != nil {
				return nil, 0, false, derr
			}

			it.stack = newStack
			it.leaf = leaf
			it.leafIdx = 0
			advanced = true

			break
		}

		if !advanced {
			it.leaf = nil
			return nil, 0, false, nil
		}
	}
}
