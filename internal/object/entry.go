package object

import (
	"fmt"

	"github.com/calvinalkan/tdb/internal/objpos"
	"github.com/calvinalkan/tdb/internal/tdberr"
)

// entryHeaderSize is the encoded size before key and value bytes:
// ObjectPos(8) + key_len(1) + val_len(2).
const entryHeaderSize = 8 + 1 + 2

// Entry is a leaf payload: a key-value pair. Entries are never modified in
// place across transactions - [Entry.Update] mutates the in-memory copy
// held by the writer-side cache before commit assigns it a new position;
// once flushed, a later update produces a brand new Entry object.
type Entry struct {
	Key []byte
	Val []byte
	pos objpos.Pos
}

// NewEntry validates key/value lengths and returns a new, unflushed Entry.
func NewEntry(key, val []byte) (*Entry, error) {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return nil, fmt.Errorf("%w: entry key length %d exceeds %d", tdberr.ErrSerialize, len(key), MaxKeyLen)
	}
	if len(val) > MaxValLen {
		return nil, fmt.Errorf("%w: entry value length %d exceeds %d", tdberr.ErrSerialize, len(val), MaxValLen)
	}

	return &Entry{Key: append([]byte(nil), key...), Val: append([]byte(nil), val...)}, nil
}

func (e *Entry) Pos() objpos.Pos       { return e.pos }
func (e *Entry) SetPos(p objpos.Pos)   { e.pos = p }
func (e *Entry) ObjTag() objpos.Tag    { return TagEntry }
func (e *Entry) Size() int             { return entryHeaderSize + len(e.Key) + len(e.Val) }

// Update replaces the value in place, adjusting the tracked length so the
// writer's removed/live byte accounting stays correct until the object is
// reassigned a real position at flush time.
func (e *Entry) Update(val []byte) error {
	if len(val) > MaxValLen {
		return fmt.Errorf("%w: entry value length %d exceeds %d", tdberr.ErrSerialize, len(val), MaxValLen)
	}

	oldLen := uint32(len(e.Val))
	newLen := uint32(len(val))

	e.Val = append([]byte(nil), val...)

	if !e.pos.IsEmpty() {
		if newLen >= oldLen {
			e.pos = e.pos.AddLen(newLen - oldLen)
		} else {
			e.pos = e.pos.SubLen(oldLen - newLen)
		}
	}

	return nil
}

// Encode serializes the entry as:
// ObjectPos(u64) | key_len(u8) | key_bytes | val_len(u16) | val_bytes
func (e *Entry) Encode() []byte {
	b := make([]byte, entryHeaderSize+len(e.Key)+len(e.Val))

	putUint64(b[0:8], uint64(e.pos))
	b[8] = byte(len(e.Key))
	n := 9
	n += copy(b[n:], e.Key)
	putUint16(b[n:n+2], uint16(len(e.Val)))
	n += 2
	copy(b[n:], e.Val)

	return b
}

// DecodeEntry parses an Entry from its encoded form.
func DecodeEntry(b []byte) (*Entry, error) {
	if len(b) < entryHeaderSize {
		return nil, fmt.Errorf("%w: entry truncated, got %d bytes", tdberr.ErrSerialize, len(b))
	}

	pos := objpos.Pos(getUint64(b[0:8]))
	keyLen := int(b[8])

	n := 9
	if len(b) < n+keyLen+2 {
		return nil, fmt.Errorf("%w: entry truncated reading key", tdberr.ErrSerialize)
	}

	key := b[n : n+keyLen]
	n += keyLen

	valLen := int(getUint16(b[n : n+2]))
	n += 2

	if len(b) < n+valLen {
		return nil, fmt.Errorf("%w: entry truncated reading value", tdberr.ErrSerialize)
	}

	val := b[n : n+valLen]

	return &Entry{
		Key: append([]byte(nil), key...),
		Val: append([]byte(nil), val...),
		pos: pos,
	}, nil
}
