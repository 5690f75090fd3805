// Package bufcache implements the concurrent buffer cache: a fixed pool
// of block-sized buffers, bucketed by hash of block number, each bucket
// guarded by its own lock and each buffer guarded by its own sleep-lock
// equivalent. See SPEC_FULL.md §4.1.
//
// Grounded on the teacher's two-level locking in pkg/cache/cache.go
// (globalMu + per-entry mu) and on original_source/kernel/bio.c's
// bget/bread/bwrite/brelse/bpin/bunpin bucket-steal algorithm. The
// cross-bucket steal here always locks buckets in increasing index
// order (never "home first, victim second" when victim < home) to
// close the lock-ordering hazard the C source's fixed acquisition
// order leaves open across goroutines, per SPEC_FULL.md §5.
package bufcache

import (
	"sync"
	"time"

	"github.com/xv6fs/xv6fs/pkg/blockdev"
	"github.com/xv6fs/xv6fs/pkg/fserrors"
	"github.com/xv6fs/xv6fs/pkg/superblock"
)

// NBuckets is the number of hash buckets in the buffer table: a small
// prime, matching original_source/kernel/bio.c's BUF_TABLE_SIZE.
const NBuckets = 13

// Metrics receives buffer-cache observability events. Nil-safe: every
// call site in this package checks for nil before calling through, so
// a cache built without metrics has zero overhead, matching the
// teacher's pkg/metrics indirection-to-avoid-import-cycles pattern.
type Metrics interface {
	ObserveAcquire(hit bool, d time.Duration)
	ObserveBucketSteal()
	SetActiveBuffers(n int)
}

// Buffer is a handle to one in-memory shadow of a disk block. Returned
// by Read/Acquire already holding the per-buffer sleep-lock; callers
// must call Release exactly once when done.
type Buffer struct {
	slot *slot
}

// Blockno returns the block number this buffer currently holds.
func (b *Buffer) Blockno() uint32 { return b.slot.blockno }

// Bytes returns the mutable backing array for this block's contents.
// Valid only while the caller holds the buffer (between Acquire/Read
// and Release).
func (b *Buffer) Bytes() []byte { return b.slot.data[:] }

// Valid reports whether the buffer's contents reflect the on-disk block.
func (b *Buffer) Valid() bool { return b.slot.valid }

// slot is one arena-allocated buffer record. prev/next are indices into
// the cache's arena forming the bucket's intrusive doubly-linked list,
// never owning references, per SPEC_FULL.md §9.
type slot struct {
	mu     sync.Mutex // sleep-lock: guards data/valid while refcnt > 0
	locked bool       // lightweight holdingsleep-style assertion, mutated only by the lock holder

	idx     int
	blockno uint32 // guarded by the owning bucket's lock
	valid   bool   // guarded by mu
	refcnt  uint32 // guarded by the owning bucket's lock
	prev    int    // guarded by the owning bucket's lock, -1 = none
	next    int    // guarded by the owning bucket's lock, -1 = none

	data [superblock.BSIZE]byte
}

type bucket struct {
	mu   sync.Mutex
	head int // arena index of first member, -1 if empty
}

// Cache is the fixed-size buffer pool with bucketed locking.
type Cache struct {
	dev     blockdev.Device
	metrics Metrics

	buckets [NBuckets]bucket
	arena   []slot
}

// New creates a Cache with superblock.NBUF slots, all initially homed in
// bucket 0, matching original_source/kernel/bio.c's binit.
func New(dev blockdev.Device, m Metrics) *Cache {
	c := &Cache{dev: dev, metrics: m}
	for i := range c.buckets {
		c.buckets[i].head = -1
	}

	c.arena = make([]slot, superblock.NBUF)
	for i := range c.arena {
		c.arena[i].idx = i
		c.linkInto(0, i)
	}
	return c
}

func (c *Cache) linkInto(bh int, idx int) {
	b := &c.buckets[bh]
	s := &c.arena[idx]
	s.prev = -1
	s.next = b.head
	if b.head != -1 {
		c.arena[b.head].prev = idx
	}
	b.head = idx
}

func (c *Cache) unlinkFrom(bh int, idx int) {
	b := &c.buckets[bh]
	s := &c.arena[idx]
	if s.prev != -1 {
		c.arena[s.prev].next = s.next
	} else {
		b.head = s.next
	}
	if s.next != -1 {
		c.arena[s.next].prev = s.prev
	}
}

func (c *Cache) findIdentity(bh int, blockno uint32) int {
	for i := c.buckets[bh].head; i != -1; i = c.arena[i].next {
		if c.arena[i].blockno == blockno {
			return i
		}
	}
	return -1
}

func (c *Cache) findIdle(bh int) int {
	for i := c.buckets[bh].head; i != -1; i = c.arena[i].next {
		if c.arena[i].refcnt == 0 {
			return i
		}
	}
	return -1
}

func (c *Cache) activeCount() int {
	n := 0
	for i := range c.arena {
		if c.arena[i].refcnt > 0 {
			n++
		}
	}
	return n
}

// Acquire implements bget: find-or-repurpose a buffer for blockno,
// returning it with the sleep-lock held.
func (c *Cache) Acquire(blockno uint32) *Buffer {
	start := time.Now()
	h := int(blockno % NBuckets)

	// Pass 0: home bucket alone (identity match or idle-in-home).
	c.buckets[h].mu.Lock()
	if i := c.findIdentity(h, blockno); i != -1 {
		c.arena[i].refcnt++
		c.buckets[h].mu.Unlock()
		return c.finishAcquire(i, start, true)
	}
	if i := c.findIdle(h); i != -1 {
		c.claim(i, blockno)
		c.buckets[h].mu.Unlock()
		return c.finishAcquire(i, start, false)
	}
	c.buckets[h].mu.Unlock()

	// Pass 1..NBuckets-1: cross-bucket steal, locks always taken in
	// increasing bucket-index order to avoid deadlock between two
	// goroutines stealing from each other's home bucket.
	for step := 1; step < NBuckets; step++ {
		cand := (h + step) % NBuckets
		lo, hi := h, cand
		if cand < h {
			lo, hi = cand, h
		}

		c.buckets[lo].mu.Lock()
		if hi != lo {
			c.buckets[hi].mu.Lock()
		}

		// Home bucket may have changed since we dropped its lock; recheck.
		if i := c.findIdentity(h, blockno); i != -1 {
			c.arena[i].refcnt++
			c.unlockPair(lo, hi)
			return c.finishAcquire(i, start, true)
		}
		if i := c.findIdle(h); i != -1 {
			c.claim(i, blockno)
			c.unlockPair(lo, hi)
			return c.finishAcquire(i, start, false)
		}
		if i := c.findIdle(cand); i != -1 {
			c.unlinkFrom(cand, i)
			c.claim(i, blockno)
			c.linkInto(h, i)
			c.unlockPair(lo, hi)
			if c.metrics != nil {
				c.metrics.ObserveBucketSteal()
			}
			return c.finishAcquire(i, start, false)
		}
		c.unlockPair(lo, hi)
	}

	fserrors.Fatal("bufcache: acquire: no buffers available for block %d", blockno)
	return nil
}

func (c *Cache) unlockPair(lo, hi int) {
	if hi != lo {
		c.buckets[hi].mu.Unlock()
	}
	c.buckets[lo].mu.Unlock()
}

func (c *Cache) claim(i int, blockno uint32) {
	c.arena[i].blockno = blockno
	c.arena[i].valid = false
	c.arena[i].refcnt = 1
}

func (c *Cache) finishAcquire(i int, start time.Time, hit bool) *Buffer {
	s := &c.arena[i]
	s.mu.Lock()
	s.locked = true
	if c.metrics != nil {
		c.metrics.ObserveAcquire(hit, time.Since(start))
		c.metrics.SetActiveBuffers(c.activeCount())
	}
	return &Buffer{slot: s}
}

// Read implements bread: acquire the buffer, loading its contents from
// the device on first access.
func (c *Cache) Read(blockno uint32) (*Buffer, error) {
	buf := c.Acquire(blockno)
	if !buf.slot.valid {
		if err := c.dev.ReadBlock(blockno, buf.slot.data[:]); err != nil {
			return nil, err
		}
		buf.slot.valid = true
	}
	return buf, nil
}

// Write implements bwrite: the caller must hold buf's sleep-lock (true
// of any Buffer obtained from Acquire/Read and not yet Released).
func (c *Cache) Write(buf *Buffer) error {
	if !buf.slot.locked {
		fserrors.Fatal("bufcache: write: buffer %d not locked", buf.slot.blockno)
	}
	return c.dev.WriteBlock(buf.slot.blockno, buf.slot.data[:])
}

// Release implements brelse: drop the sleep-lock, then decrement the
// refcount under the owning bucket's lock.
func (c *Cache) Release(buf *Buffer) {
	s := buf.slot
	if !s.locked {
		fserrors.Fatal("bufcache: release: buffer %d not locked", s.blockno)
	}
	s.locked = false
	s.mu.Unlock()

	h := s.blockno % NBuckets
	c.buckets[h].mu.Lock()
	s.refcnt--
	c.buckets[h].mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetActiveBuffers(c.activeCount())
	}
}

// Pin increments a buffer's refcount without touching its sleep-lock.
// Used by the log to keep dirty buffers resident between modification
// and commit.
func (c *Cache) Pin(buf *Buffer) {
	s := buf.slot
	h := s.blockno % NBuckets
	c.buckets[h].mu.Lock()
	s.refcnt++
	c.buckets[h].mu.Unlock()
}

// Unpin decrements a buffer's refcount without touching its sleep-lock.
func (c *Cache) Unpin(buf *Buffer) {
	s := buf.slot
	h := s.blockno % NBuckets
	c.buckets[h].mu.Lock()
	s.refcnt--
	c.buckets[h].mu.Unlock()
}

// Sync flushes the underlying device to stable storage. Used by the log
// at the commit point and after installing transactions.
func (c *Cache) Sync() error {
	return c.dev.Sync()
}
