// Package bplustree implements the copy-on-write B+-tree algorithms:
// search, insert, remove, and the split/merge/rebalance bubble-up that
// keeps every node within its size bounds. Nodes are plain
// [object.Leaf]/[object.Branch] values; persistence and versioning are the
// caller's responsibility via the [Accessor] interface, so the same
// algorithms serve both the write path (mutable, writer-cache backed) and
// read-only traversal.
package bplustree

import (
	"fmt"

	"github.com/calvinalkan/tdb/internal/object"
)

// Accessor abstracts fetching and allocating tree nodes so bplustree stays
// agnostic of the object table, data log, and writer-side cache.
type Accessor interface {
	// Kind reports whether oid is currently a leaf or a branch, so the
	// driver can dispatch without guessing from a failed fetch.
	Kind(oid uint32) (object.Tag, error)
	// GetBranch resolves oid as a branch for reading.
	GetBranch(oid uint32) (*object.Branch, error)
	// GetLeaf resolves oid as a leaf for reading.
	GetLeaf(oid uint32) (*object.Leaf, error)
	// GetMutBranch resolves oid as a branch and marks it dirty for this
	// transaction (copy-on-write: first call clones it).
	GetMutBranch(oid uint32) (*object.Branch, error)
	// GetMutLeaf is GetMutBranch's leaf counterpart.
	GetMutLeaf(oid uint32) (*object.Leaf, error)
	// NewLeaf allocates a fresh oid and registers an empty leaf there.
	NewLeaf() (uint32, *object.Leaf)
	// NewBranch allocates a fresh oid and registers branch there.
	NewBranch(branch *object.Branch) uint32
	// FreeNode tombstones oid (its node was merged away).
	FreeNode(oid uint32)
}

// pathEntry records a branch visited on the way down, and the index of the
// child we descended into.
type pathEntry struct {
	oid      uint32
	branch   *object.Branch
	childIdx int
}

// descend walks from root to the leaf covering key, returning the path of
// branches visited and the leaf oid/leaf itself.
func descend(acc Accessor, root uint32, key []byte, mutate bool) ([]pathEntry, uint32, *object.Leaf, error) {
	var path []pathEntry

	oid := root

	for {
		tag, err := acc.Kind(oid)
		if err != nil {
			return nil, 0, nil, err
		}

		if tag == object.TagLeaf {
			var leaf *object.Leaf
			if mutate {
				leaf, err = acc.GetMutLeaf(oid)
			} else {
				leaf, err = acc.GetLeaf(oid)
			}
			if err != nil {
				return nil, 0, nil, err
			}
			return path, oid, leaf, nil
		}

		var branch *object.Branch
		if mutate {
			branch, err = acc.GetMutBranch(oid)
		} else {
			branch, err = acc.GetBranch(oid)
		}
		if err != nil {
			return nil, 0, nil, err
		}

		idx := branch.Search(key)
		path = append(path, pathEntry{oid: oid, branch: branch, childIdx: idx})
		oid = branch.Children[idx]
	}
}

// Search performs an ordinary B+-tree descent and returns the entry oid for
// key, or found=false if absent.
func Search(acc Accessor, root uint32, key []byte) (entryOid uint32, found bool, err error) {
	_, _, leaf, err := descend(acc, root, key, false)
	if err != nil {
		return 0, false, err
	}

	oid, found := leaf.Search(key)
	return oid, found, nil
}

// GetMin returns the first (key, entry oid) pair in the tree.
func GetMin(acc Accessor, root uint32) (key []byte, entryOid uint32, found bool, err error) {
	oid := root

	for {
		tag, err := acc.Kind(oid)
		if err != nil {
			return nil, 0, false, err
		}

		if tag == object.TagLeaf {
			leaf, err := acc.GetLeaf(oid)
			if err != nil {
				return nil, 0, false, err
			}
			if len(leaf.Keys) == 0 {
				return nil, 0, false, nil
			}
			return leaf.Keys[0], leaf.Children[0], true, nil
		}

		branch, err := acc.GetBranch(oid)
		if err != nil {
			return nil, 0, false, err
		}
		if len(branch.Children) == 0 {
			return nil, 0, false, nil
		}
		oid = branch.Children[0]
	}
}

// GetMax returns the last (key, entry oid) pair in the tree.
func GetMax(acc Accessor, root uint32) (key []byte, entryOid uint32, found bool, err error) {
	oid := root

	for {
		tag, err := acc.Kind(oid)
		if err != nil {
			return nil, 0, false, err
		}

		if tag == object.TagLeaf {
			leaf, err := acc.GetLeaf(oid)
			if err != nil {
				return nil, 0, false, err
			}
			n := len(leaf.Keys)
			if n == 0 {
				return nil, 0, false, nil
			}
			return leaf.Keys[n-1], leaf.Children[n-1], true, nil
		}

		branch, err := acc.GetBranch(oid)
		if err != nil {
			return nil, 0, false, err
		}
		n := len(branch.Children)
		if n == 0 {
			return nil, 0, false, nil
		}
		oid = branch.Children[n-1]
	}
}

// Insert descends to the leaf covering key, inserts (key, entryOid) if the
// key is new (callers must handle in-place value updates for existing keys
// themselves, via Entry.Update, before calling Insert), and bubbles any
// resulting splits up to a possibly new root. Returns the tree's new root
// oid.
func Insert(acc Accessor, root uint32, key []byte, entryOid uint32) (newRoot uint32, err error) {
	path, leafOid, leaf, err := descend(acc, root, key, true)
	if err != nil {
		return 0, err
	}

	leaf.InsertNonFull(key, entryOid)

	if !leaf.ShouldSplit() {
		return root, nil
	}

	sepKey, rightLeaf := leaf.Split()
	rightOid, allocated := acc.NewLeaf()
	allocated.Keys = rightLeaf.Keys
	allocated.Children = rightLeaf.Children

	return bubbleUp(acc, root, path, leafOid, sepKey, rightOid)
}

// bubbleUp inserts (sepKey, newChildOid) into the node at path[len(path)-1]
// (the parent of childOid), splitting parents as needed, and creates a new root if
// the split propagates all the way up.
func bubbleUp(acc Accessor, root uint32, path []pathEntry, childOid uint32, sepKey []byte, newChildOid uint32) (uint32, error) {
	if len(path) == 0 {
		// childOid was the root itself; make a new root branch.
		newBranch := object.NewBranch(sepKey, childOid, newChildOid)
		return acc.NewBranch(newBranch), nil
	}

	parent := path[len(path)-1]
	idx := parent.branch.IndexOfChild(childOid)
	if idx < 0 {
		return 0, fmt.Errorf("bplustree: child %d not found in parent %d", childOid, parent.oid)
	}

	parent.branch.InsertAfterChild(idx, sepKey, newChildOid)

	if !parent.branch.ShouldSplit() {
		return root, nil
	}

	sep, right := parent.branch.Split()
	rightOid := acc.NewBranch(right)

	return bubbleUp(acc, root, path[:len(path)-1], parent.oid, sep, rightOid)
}

// Remove descends to the leaf covering key, removes it if present, and
// rebalances or merges with a sibling if the leaf falls below threshold,
// mirroring the insert bubble-up. Returns the tree's new root, the removed
// entry's oid, and whether key was present.
func Remove(acc Accessor, root uint32, key []byte) (newRoot uint32, removedOid uint32, found bool, err error) {
	path, leafOid, leaf, err := descend(acc, root, key, true)
	if err != nil {
		return 0, 0, false, err
	}

	removedOid, found = leaf.Remove(key)
	if !found {
		return root, 0, false, nil
	}

	if len(path) == 0 || !leaf.ShouldRebalance() {
		return root, removedOid, true, nil
	}

	newRoot, err = rebalanceLeaf(acc, root, path, leafOid, leaf)

	return newRoot, removedOid, true, err
}

func rebalanceLeaf(acc Accessor, root uint32, path []pathEntry, leafOid uint32, leaf *object.Leaf) (uint32, error) {
	parent := path[len(path)-1]
	idx := parent.branch.IndexOfChild(leafOid)
	if idx < 0 {
		return 0, fmt.Errorf("bplustree: leaf %d not found in parent %d", leafOid, parent.oid)
	}

	// Deterministic sibling choice: prefer the right sibling; only use the
	// left sibling when leafOid is the last child.
	siblingIsRight := idx < len(parent.branch.Children)-1

	var siblingIdx int
	if siblingIsRight {
		siblingIdx = idx + 1
	} else {
		siblingIdx = idx - 1
	}

	siblingOid := parent.branch.Children[siblingIdx]

	sibling, err := acc.GetMutLeaf(siblingOid)
	if err != nil {
		return 0, err
	}

	merged := leaf.Size()+sibling.Size() <= object.MaxNodeSize

	if merged {
		var left, right *object.Leaf
		var rightOid uint32
		var keyIdx int

		if siblingIsRight {
			left, right = leaf, sibling
			rightOid = siblingOid
			keyIdx = idx
		} else {
			left, right = sibling, leaf
			rightOid = leafOid
			keyIdx = siblingIdx
		}

		left.Merge(right)
		acc.FreeNode(rightOid)
		parent.branch.RemoveIndex(keyIdx)

		if len(path) == 1 && len(parent.branch.Keys) == 0 {
			// Root branch collapsed to a single child; that child becomes
			// the new root.
			return parent.branch.Children[0], nil
		}

		return rebalanceBranchIfNeeded(acc, root, path[:len(path)-1], parent.oid, parent.branch)
	}

	leaf.Rebalance(sibling, siblingIsRight)

	// The separator above whichever node is now the right-hand side of the
	// pair always equals that node's first key: Keys[i] separates
	// Children[i] from Children[i+1] under the ceiling convention.
	if siblingIsRight {
		parent.branch.UpdateKey(idx, sibling.GetKey())
	} else {
		parent.branch.UpdateKey(siblingIdx, leaf.GetKey())
	}

	return root, nil
}

// rebalanceBranchIfNeeded mirrors rebalanceLeaf one level up, for a branch
// that shrank after a child merge.
func rebalanceBranchIfNeeded(acc Accessor, root uint32, path []pathEntry, branchOid uint32, branch *object.Branch) (uint32, error) {
	if len(path) == 0 || !branch.ShouldRebalance() {
		return root, nil
	}

	parent := path[len(path)-1]
	idx := parent.branch.IndexOfChild(branchOid)
	if idx < 0 {
		return 0, fmt.Errorf("bplustree: branch %d not found in parent %d", branchOid, parent.oid)
	}

	siblingIsRight := idx < len(parent.branch.Children)-1

	var siblingIdx int
	if siblingIsRight {
		siblingIdx = idx + 1
	} else {
		siblingIdx = idx - 1
	}

	siblingOid := parent.branch.Children[siblingIdx]

	sibling, err := acc.GetMutBranch(siblingOid)
	if err != nil {
		return 0, err
	}

	var sepIdx int
	if siblingIsRight {
		sepIdx = idx
	} else {
		sepIdx = siblingIdx
	}
	sepKey := parent.branch.Keys[sepIdx]

	canMerge := branch.Size() + sibling.Size() + 1 + len(sepKey) <= object.MaxNodeSize

	if canMerge {
		var left, right *object.Branch
		var rightOid uint32

		if siblingIsRight {
			left, right = branch, sibling
			rightOid = siblingOid
		} else {
			left, right = sibling, branch
			rightOid = branchOid
		}

		left.Merge(right, sepKey)
		acc.FreeNode(rightOid)
		parent.branch.RemoveIndex(sepIdx)

		if len(path) == 1 && len(parent.branch.Keys) == 0 {
			return parent.branch.Children[0], nil
		}

		return rebalanceBranchIfNeeded(acc, root, path[:len(path)-1], parent.oid, parent.branch)
	}

	newSep := branch.Rebalance(sibling, siblingIsRight, sepKey)
	parent.branch.UpdateKey(sepIdx, newSep)

	return root, nil
}
