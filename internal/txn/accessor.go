package txn

import (
	"fmt"

	"github.com/calvinalkan/tdb/internal/bplustree"
	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/tdberr"
	"github.com/calvinalkan/tdb/internal/writercache"
)

// roAccessor adapts a read transaction's snapshot - the object table at a
// fixed ts, backed by the data log and immutable cache via resolve - into a
// [bplustree.Accessor]. It never mutates; GetMutLeaf/GetMutBranch simply
// return the same read-only node, and NewLeaf/NewBranch/FreeNode are never
// called on this path.
type roAccessor struct {
	resolve func(oid uint32) (object.Object, error)
}

var _ bplustree.Accessor = (*roAccessor)(nil)

func (a *roAccessor) Kind(oid uint32) (object.Tag, error) {
	obj, err := a.resolve(oid)
	if err != nil {
		return 0, err
	}
	return obj.ObjTag(), nil
}

func (a *roAccessor) GetLeaf(oid uint32) (*object.Leaf, error) {
	obj, err := a.resolve(oid)
	if err != nil {
		return nil, err
	}
	leaf, ok := obj.(*object.Leaf)
	if !ok {
		return nil, fmt.Errorf("txn: oid %d is not a leaf", oid)
	}
	return leaf, nil
}

func (a *roAccessor) GetBranch(oid uint32) (*object.Branch, error) {
	obj, err := a.resolve(oid)
	if err != nil {
		return nil, err
	}
	branch, ok := obj.(*object.Branch)
	if !ok {
		return nil, fmt.Errorf("txn: oid %d is not a branch", oid)
	}
	return branch, nil
}

func (a *roAccessor) GetMutLeaf(oid uint32) (*object.Leaf, error) { return a.GetLeaf(oid) }

func (a *roAccessor) GetMutBranch(oid uint32) (*object.Branch, error) { return a.GetBranch(oid) }

func (a *roAccessor) NewLeaf() (uint32, *object.Leaf) {
	panic("txn: NewLeaf called on a read-only accessor")
}

func (a *roAccessor) NewBranch(branch *object.Branch) uint32 {
	panic("txn: NewBranch called on a read-only accessor")
}

func (a *roAccessor) FreeNode(oid uint32) {
	panic("txn: FreeNode called on a read-only accessor")
}

// wAccessor adapts a write transaction's writer-side cache into a
// [bplustree.Accessor]. Cache misses are fetched from the object table (at
// the transaction's snapshot ts) and staged as Readonly before being handed
// back, so every oid the tree driver touches during this transaction ends
// up accounted for in the writer cache by the time commit drains it.
type wAccessor struct {
	wc      *writercache.Cache
	resolve func(oid uint32) (object.Object, error)
	allocOid func() uint32
}

var _ bplustree.Accessor = (*wAccessor)(nil)

// ensure stages oid as Readonly from the snapshot if it has no cache entry
// yet, and returns its current object.
func (a *wAccessor) ensure(oid uint32) (object.Object, error) {
	if obj := a.wc.GetRef(oid); obj != nil {
		return obj, nil
	}
	if a.wc.Contains(oid) {
		// Staged but Del - the tree should never reference a tombstoned oid.
		return nil, fmt.Errorf("%w: oid %d already removed this transaction", tdberr.ErrNotFound, oid)
	}

	obj, err := a.resolve(oid)
	if err != nil {
		return nil, err
	}

	a.wc.InsertReadonly(oid, obj)

	return obj, nil
}

func (a *wAccessor) Kind(oid uint32) (object.Tag, error) {
	obj, err := a.ensure(oid)
	if err != nil {
		return 0, err
	}
	return obj.ObjTag(), nil
}

func (a *wAccessor) GetLeaf(oid uint32) (*object.Leaf, error) {
	obj, err := a.ensure(oid)
	if err != nil {
		return nil, err
	}
	leaf, ok := obj.(*object.Leaf)
	if !ok {
		return nil, fmt.Errorf("txn: oid %d is not a leaf", oid)
	}
	return leaf, nil
}

func (a *wAccessor) GetBranch(oid uint32) (*object.Branch, error) {
	obj, err := a.ensure(oid)
	if err != nil {
		return nil, err
	}
	branch, ok := obj.(*object.Branch)
	if !ok {
		return nil, fmt.Errorf("txn: oid %d is not a branch", oid)
	}
	return branch, nil
}

func (a *wAccessor) GetMutLeaf(oid uint32) (*object.Leaf, error) {
	if _, err := a.ensure(oid); err != nil {
		return nil, err
	}
	obj := a.wc.GetMut(oid)
	leaf, ok := obj.(*object.Leaf)
	if !ok {
		return nil, fmt.Errorf("txn: oid %d is not a leaf", oid)
	}
	return leaf, nil
}

func (a *wAccessor) GetMutBranch(oid uint32) (*object.Branch, error) {
	if _, err := a.ensure(oid); err != nil {
		return nil, err
	}
	obj := a.wc.GetMut(oid)
	branch, ok := obj.(*object.Branch)
	if !ok {
		return nil, fmt.Errorf("txn: oid %d is not a branch", oid)
	}
	return branch, nil
}

func (a *wAccessor) NewLeaf() (uint32, *object.Leaf) {
	oid := a.allocOid()
	leaf := object.NewLeaf()
	a.wc.InsertNew(oid, leaf)
	return oid, leaf
}

func (a *wAccessor) NewBranch(branch *object.Branch) uint32 {
	oid := a.allocOid()
	a.wc.InsertNew(oid, branch)
	return oid
}

func (a *wAccessor) FreeNode(oid uint32) {
	a.wc.MarkRemoved(oid)
}
