// Package version implements the per-object version chain: ObjectRef binds
// a weak handle into the immutable cache to an on-disk position and a
// [start_ts, end_ts) visibility interval; Versions is the short,
// newest-first history of ObjectRef attached to one object id.
package version

import (
	"math"

	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/objpos"
)

// EndOfTime is the sentinel end_ts meaning "still live".
const EndOfTime = math.MaxUint64

// WeakHandle is a non-owning back-reference to a cached object. It mirrors
// the Rust source's Weak<Object>: the immutable cache owns the strong
// reference, and Upgrade reports whether that strong reference is still
// alive.
//
// Go has no built-in weak pointers wired to GC the way Rust's Weak<T> is; the
// cache instead owns objects strongly and this handle is a pointer into the
// cache's own bookkeeping, valid only while the cache has not evicted the
// entry. Upgrade consults the owning cache's Lookup by Pos.
type WeakHandle struct {
	lookup func(objpos.Pos) (object.Object, bool)
	pos    objpos.Pos
}

// NewWeakHandle returns a handle that resolves via lookup.
func NewWeakHandle(pos objpos.Pos, lookup func(objpos.Pos) (object.Object, bool)) WeakHandle {
	return WeakHandle{lookup: lookup, pos: pos}
}

// Upgrade attempts to resolve the handle to a live object.
func (w WeakHandle) Upgrade() (object.Object, bool) {
	if w.lookup == nil {
		return nil, false
	}
	return w.lookup(w.pos)
}

// ObjectRef is one version of an object: its on-disk position, a possibly
// still-resolvable cache handle, and its visibility interval.
type ObjectRef struct {
	Weak    WeakHandle
	Pos     objpos.Pos
	StartTs uint64
	EndTs   uint64 // EndOfTime if still live
}

// IsLive reports whether this version has no end (still the current one).
func (r ObjectRef) IsLive() bool {
	return r.EndTs == EndOfTime
}

// Contains reports whether ts falls within [StartTs, EndTs).
func (r ObjectRef) Contains(ts uint64) bool {
	return ts >= r.StartTs && ts < r.EndTs
}

// Versions is the newest-first history of ObjectRef for one object id, plus
// the tag shared by every version (a Versions entry is either empty or has
// exactly one tag, matching all its versions).
type Versions struct {
	History []ObjectRef
	Tag     objpos.Tag
	hasTag  bool
}

// IsClear reports whether the history is empty and the tag cleared - the
// slot is free for reuse.
func (v *Versions) IsClear() bool {
	return len(v.History) == 0 && !v.hasTag
}

// FindAt performs a linear scan (history is short in steady state) for the
// version visible at ts.
func (v *Versions) FindAt(ts uint64) (ObjectRef, bool) {
	idx, ok := v.FindIndexAt(ts)
	if !ok {
		return ObjectRef{}, false
	}
	return v.History[idx], true
}

// FindIndexAt is FindAt but returns the history index, so a caller can later
// update that version's weak handle in place (e.g. after installing a
// strong reference into the immutable cache).
func (v *Versions) FindIndexAt(ts uint64) (int, bool) {
	for i, ref := range v.History {
		if ref.Contains(ts) {
			return i, true
		}
	}
	return 0, false
}

// SetWeakAt overwrites the weak handle of the version at idx.
func (v *Versions) SetWeakAt(idx int, w WeakHandle) {
	v.History[idx].Weak = w
}

// Add pushes a new front version, closing the previous front's interval at
// newRef.StartTs. It asserts tag matches (setting it if the history was
// empty).
func (v *Versions) Add(newRef ObjectRef, tag objpos.Tag) {
	if !v.hasTag {
		v.Tag = tag
		v.hasTag = true
	} else if v.Tag != tag {
		panic("version: tag mismatch within Versions history")
	}

	if len(v.History) > 0 {
		v.History[0].EndTs = newRef.StartTs
	}

	v.History = append([]ObjectRef{newRef}, v.History...)
}

// MarkRemoved closes the current front's interval at ts (a no-op if it is
// already finite).
func (v *Versions) MarkRemoved(ts uint64) {
	if len(v.History) == 0 {
		return
	}

	front := &v.History[0]
	if front.EndTs == EndOfTime {
		front.EndTs = ts
	}
}

// TryClear pops versions from the back of the history while their end_ts is
// at or below minTs - they can no longer be visible to any reader.
func (v *Versions) TryClear(minTs uint64) {
	for len(v.History) > 0 {
		back := v.History[len(v.History)-1]
		if back.EndTs > minTs {
			break
		}

		v.History = v.History[:len(v.History)-1]
	}

	if len(v.History) == 0 {
		v.hasTag = false
	}
}

// Len returns the number of versions currently retained.
func (v *Versions) Len() int {
	return len(v.History)
}
