// Package immutcache implements the bounded LRU cache of deserialized,
// immutable objects keyed by on-disk position. It mirrors the original's
// dedicated cache worker: commands are submitted to a bounded channel (1024
// commands) and applied by one background goroutine. Insert never blocks:
// when the channel is full the object is simply not cached. Remove and Clear
// wait for room in the channel.
package immutcache

import (
	"runtime"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/calvinalkan/tdb/internal/object"
	"github.com/calvinalkan/tdb/internal/objpos"
)

// DefaultCapacity is used when a non-positive capacity is supplied.
const DefaultCapacity = 4096

type commandKind int

const (
	cmdInsert commandKind = iota
	cmdRemove
	cmdClear
)

type command struct {
	kind commandKind
	pos  objpos.Pos
	obj  object.Object
}

// Cache is a bounded LRU of Pos -> Object, entries is never cached (entries
// are leaf payload, dominate memory, and are always reachable through the
// tree rather than needing their own cache slot).
type Cache struct {
	inner  *lru.Cache[objpos.Pos, object.Object]
	cmds   chan command
	closed chan struct{}
	done   chan struct{}
}

// New starts a cache with the given LRU capacity and its dedicated worker
// goroutine. Call Close to stop the worker.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	inner, err := lru.New[objpos.Pos, object.Object](capacity)
	if err != nil {
		// Only returns an error for non-positive size, already guarded above.
		panic(err)
	}

	c := &Cache{
		inner:  inner,
		cmds:   make(chan command, 1024),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go c.run()

	return c
}

// Lookup is a synchronous, lock-free-from-the-caller's-perspective read. The
// underlying lru.Cache is safe for concurrent use, so lookups never wait on
// the worker goroutine.
func (c *Cache) Lookup(pos objpos.Pos) (object.Object, bool) {
	return c.inner.Get(pos)
}

// Insert asynchronously submits obj for caching at pos. Entry objects are
// silently dropped - they are never cached - and so is obj when the command
// channel is full.
func (c *Cache) Insert(pos objpos.Pos, obj object.Object) {
	if obj.ObjTag() == object.TagEntry {
		return
	}

	select {
	case c.cmds <- command{kind: cmdInsert, pos: pos, obj: obj}:
	case <-c.closed:
	default:
	}
}

// Remove asynchronously evicts pos, if present.
func (c *Cache) Remove(pos objpos.Pos) {
	select {
	case c.cmds <- command{kind: cmdRemove, pos: pos}:
	case <-c.closed:
	}
}

// Clear asynchronously empties the cache.
func (c *Cache) Clear() {
	select {
	case c.cmds <- command{kind: cmdClear}:
	case <-c.closed:
	}
}

// Close stops the worker goroutine and waits for it to exit. Idempotent.
func (c *Cache) Close() {
	select {
	case <-c.closed:
		return
	default:
	}

	close(c.closed)
	<-c.done
}

// run is the dedicated worker: it tries to dequeue a command, and on an
// empty channel performs an exponential spin-then-yield backoff before
// retrying, exiting once Close has been called and the queue has drained.
func (c *Cache) run() {
	defer close(c.done)

	backoff := time.Duration(0)

	for {
		select {
		case cmd := <-c.cmds:
			c.apply(cmd)
			backoff = 0
			continue
		default:
		}

		select {
		case cmd := <-c.cmds:
			c.apply(cmd)
			backoff = 0
			continue
		case <-c.closed:
			c.drain()
			return
		default:
		}

		if backoff < 10 {
			backoff++
			runtime.Gosched()
			continue
		}

		time.Sleep(time.Millisecond)
	}
}

// drain applies any commands submitted before Close but not yet processed.
func (c *Cache) drain() {
	for {
		select {
		case cmd := <-c.cmds:
			c.apply(cmd)
		default:
			return
		}
	}
}

func (c *Cache) apply(cmd command) {
	switch cmd.kind {
	case cmdInsert:
		c.inner.Add(cmd.pos, cmd.obj)
	case cmdRemove:
		c.inner.Remove(cmd.pos)
	case cmdClear:
		c.inner.Purge()
	}
}
