// Package inode implements the in-memory inode table with two-level
// locking, the on-disk inode record codec, and the direct/singly
// indirect/doubly indirect block map. See SPEC_FULL.md §4.4.
//
// Grounded on original_source/kernel/fs.c's iget/ilock/iunlock/iput/
// ialloc/iupdate/itrunc/readi/writei/bmap and on original_source/
// kernel/file.h's struct inode (ref/valid/lock split from the on-disk
// fields). The table-wide reference count is guarded by a short mutex
// (the xv6 "spinlock" maps to a plain sync.Mutex per SPEC_FULL.md §5);
// the per-inode contents are guarded by a second mutex acquired only
// when the caller actually needs to read or mutate them, preserving the
// two-level discipline: never take the per-inode mutex while holding
// the table mutex.
package inode

import (
	"encoding/binary"
	"sync"

	"github.com/xv6fs/xv6fs/internal/logger"
	"github.com/xv6fs/xv6fs/pkg/alloc"
	"github.com/xv6fs/xv6fs/pkg/bufcache"
	"github.com/xv6fs/xv6fs/pkg/fserrors"
	"github.com/xv6fs/xv6fs/pkg/superblock"
	"github.com/xv6fs/xv6fs/pkg/walog"
)

// NInodes is the size of the in-memory inode table: the maximum number
// of inodes that may be simultaneously referenced (open files, cwds,
// in-flight path lookups). Exhaustion is fatal, matching the buffer
// pool's exhaustion policy in SPEC_FULL.md §7.
const NInodes = 64

// Type classifies an inode's on-disk record.
type Type int16

const (
	TypeFree Type = iota
	TypeFile
	TypeDir
	TypeDevice
	TypeSymlink
)

func typeName(t Type) string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	case TypeDevice:
		return "device"
	case TypeSymlink:
		return "symlink"
	default:
		return "free"
	}
}

// Stat is a point-in-time metadata snapshot returned by Inode.Stat.
type Stat struct {
	Inum  uint32
	Type  Type
	Major int16
	Minor int16
	Nlink int16
	Size  uint32
}

// entry is one slot in the fixed-size in-memory inode table. identity
// and ref are guarded by the table's mutex; everything else is guarded
// by mu, acquired only between Lock/Unlock.
type entry struct {
	mu sync.Mutex

	inum uint32 // guarded by table mutex; 0 when the slot is empty
	ref  uint32 // guarded by table mutex

	valid bool // guarded by mu: contents loaded from disk

	typ          Type
	major, minor int16
	nlink        int16
	size         uint32
	addrs        [superblock.NADDRS]uint32
}

// Inode is a handle to one in-memory inode table entry, obtained via
// Table.Get (iget). Holding an Inode keeps the underlying entry
// referenced; call Put when done.
type Inode struct {
	t *Table
	e *entry
}

// Inum returns the inode number this handle refers to.
func (ip *Inode) Inum() uint32 { return ip.e.inum }

// Table is the in-memory inode table plus its dependencies: the buffer
// cache for disk I/O, the log for transactional writes, and the
// allocator for block (de)allocation during truncation.
type Table struct {
	cache *bufcache.Cache
	log   *walog.Log
	alloc *alloc.Allocator
	sb    *superblock.Superblock

	mu      sync.Mutex
	entries [NInodes]entry
}

// New builds an inode Table bound to its collaborators.
func New(cache *bufcache.Cache, log *walog.Log, allocator *alloc.Allocator, sb *superblock.Superblock) *Table {
	return &Table{cache: cache, log: log, alloc: allocator, sb: sb}
}

// Get implements iget: find-or-create the in-memory table entry for
// inum, incrementing its reference count. Does not read the inode's
// contents from disk; call Lock to do that.
func (t *Table) Get(inum uint32) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()

	var empty *entry
	for i := range t.entries {
		e := &t.entries[i]
		if e.ref > 0 && e.inum == inum {
			e.ref++
			return &Inode{t: t, e: e}
		}
		if empty == nil && e.ref == 0 {
			empty = e
		}
	}

	if empty == nil {
		fserrors.Fatal("inode: table exhausted: no free slot for inum %d", inum)
	}

	empty.inum = inum
	empty.ref = 1
	empty.valid = false
	return &Inode{t: t, e: empty}
}

func (t *Table) dup(ip *Inode) *Inode {
	t.mu.Lock()
	ip.e.ref++
	t.mu.Unlock()
	return ip
}

// Dup increments the reference count on an already-held inode (used
// when a second long-lived holder, e.g. a second open handle, starts
// referencing the same inode without a fresh path lookup).
func (ip *Inode) Dup() *Inode { return ip.t.dup(ip) }

func dinodeOffset(sb *superblock.Superblock, inum uint32) (blockno uint32, off int) {
	return sb.IBlock(inum), int(inum%superblock.IPB) * superblock.DinodeSize
}

// Lock implements ilock: acquire the per-inode sleep-lock and, on first
// acquisition since Get, load the on-disk record.
func (ip *Inode) Lock() {
	e := ip.e
	e.mu.Lock()
	if e.valid {
		return
	}

	sb := ip.t.sb
	blockno, off := dinodeOffset(sb, e.inum)
	buf, err := ip.t.cache.Read(blockno)
	if err != nil {
		e.mu.Unlock()
		fserrors.Fatal("inode: ilock: read inode block: %v", err)
	}

	data := buf.Bytes()[off : off+superblock.DinodeSize]
	e.typ = Type(int16(binary.LittleEndian.Uint16(data[0:2])))
	e.major = int16(binary.LittleEndian.Uint16(data[2:4]))
	e.minor = int16(binary.LittleEndian.Uint16(data[4:6]))
	e.nlink = int16(binary.LittleEndian.Uint16(data[6:8]))
	e.size = binary.LittleEndian.Uint32(data[8:12])
	for i := 0; i < superblock.NADDRS; i++ {
		base := 12 + i*4
		e.addrs[i] = binary.LittleEndian.Uint32(data[base : base+4])
	}
	ip.t.cache.Release(buf)

	e.valid = true
	if e.typ == TypeFree {
		fserrors.Fatal("inode: ilock: inum %d has no on-disk type (use after free?)", e.inum)
	}
}

// Unlock implements iunlock.
func (ip *Inode) Unlock() {
	ip.e.mu.Unlock()
}

// Put implements iput: release a reference. If this was the last
// reference and the link count has dropped to zero, the inode's
// contents are truncated and its type is cleared on disk. Must be
// called inside an active transaction (the caller's Log.BeginOp/EndOp),
// because the truncate-and-free path performs logged writes.
func (ip *Inode) Put() {
	t := ip.t
	e := ip.e

	t.mu.Lock()
	if e.ref > 1 {
		e.ref--
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	e.mu.Lock()
	if e.valid && e.nlink == 0 {
		ip.truncateLocked()
		e.typ = TypeFree
		ip.updateLocked()
	}
	e.valid = false
	e.mu.Unlock()

	t.mu.Lock()
	e.ref--
	t.mu.Unlock()
}

// Alloc implements ialloc: claim the first inode on disk with type ==
// free, mark it with typ (and, for device nodes, major/minor), and
// return it via Get. Must run inside an active transaction.
func (t *Table) Alloc(typ Type, major, minor int16) (*Inode, error) {
	for inum := uint32(1); inum < t.sb.NInodes; inum++ {
		blockno, off := dinodeOffset(t.sb, inum)
		buf, err := t.cache.Read(blockno)
		if err != nil {
			return nil, fserrors.Wrap(fserrors.CodeExhausted, "ialloc", "", err)
		}

		data := buf.Bytes()[off : off+superblock.DinodeSize]
		onDiskType := Type(int16(binary.LittleEndian.Uint16(data[0:2])))
		if onDiskType != TypeFree {
			t.cache.Release(buf)
			continue
		}

		clear(data)
		binary.LittleEndian.PutUint16(data[0:2], uint16(int16(typ)))
		binary.LittleEndian.PutUint16(data[2:4], uint16(major))
		binary.LittleEndian.PutUint16(data[4:6], uint16(minor))
		t.log.LogWrite(buf)
		t.cache.Release(buf)

		logger.Debug("inode: allocated", logger.InodeID(inum), logger.TypeStr(typeName(typ)))
		return t.Get(inum), nil
	}
	return nil, fserrors.New(fserrors.CodeExhausted, "ialloc", "")
}

// AllocatedInodes returns the inode number of every on-disk inode whose
// type is not free. Used by fsck to enumerate the inodes whose block
// maps should be cross-checked against the free-block bitmap.
func (t *Table) AllocatedInodes() ([]uint32, error) {
	var out []uint32
	for inum := uint32(1); inum < t.sb.NInodes; inum++ {
		blockno, off := dinodeOffset(t.sb, inum)
		buf, err := t.cache.Read(blockno)
		if err != nil {
			return nil, err
		}
		typ := Type(int16(binary.LittleEndian.Uint16(buf.Bytes()[off : off+2])))
		t.cache.Release(buf)
		if typ != TypeFree {
			out = append(out, inum)
		}
	}
	return out, nil
}

// Update implements iupdate: write the in-memory copy back to its
// on-disk inode block. Call whenever a persisted field has changed.
// Caller must hold Lock and be inside an active transaction.
func (ip *Inode) Update() {
	ip.updateLocked()
}

func (ip *Inode) updateLocked() {
	e := ip.e
	sb := ip.t.sb
	blockno, off := dinodeOffset(sb, e.inum)

	buf, err := ip.t.cache.Read(blockno)
	if err != nil {
		fserrors.Fatal("inode: iupdate: read inode block: %v", err)
	}

	data := buf.Bytes()[off : off+superblock.DinodeSize]
	binary.LittleEndian.PutUint16(data[0:2], uint16(int16(e.typ)))
	binary.LittleEndian.PutUint16(data[2:4], uint16(e.major))
	binary.LittleEndian.PutUint16(data[4:6], uint16(e.minor))
	binary.LittleEndian.PutUint16(data[6:8], uint16(e.nlink))
	binary.LittleEndian.PutUint32(data[8:12], e.size)
	for i := 0; i < superblock.NADDRS; i++ {
		base := 12 + i*4
		binary.LittleEndian.PutUint32(data[base:base+4], e.addrs[i])
	}

	ip.t.log.LogWrite(buf)
	ip.t.cache.Release(buf)
}

// Stat implements stati: snapshot the inode's metadata. Caller must
// hold Lock.
func (ip *Inode) Stat(out *Stat) {
	e := ip.e
	out.Inum = e.inum
	out.Type = e.typ
	out.Major = e.major
	out.Minor = e.minor
	out.Nlink = e.nlink
	out.Size = e.size
}

// Accessors used by the directory/path layer; caller must hold Lock.
func (ip *Inode) Type() Type    { return ip.e.typ }
func (ip *Inode) Nlink() int16  { return ip.e.nlink }
func (ip *Inode) Size() uint32  { return ip.e.size }
func (ip *Inode) Major() int16  { return ip.e.major }
func (ip *Inode) Minor() int16  { return ip.e.minor }

// SetNlink sets the in-memory link count; caller must hold Lock and
// call Update to persist it.
func (ip *Inode) SetNlink(n int16) { ip.e.nlink = n }

// SetType sets the in-memory type; caller must hold Lock and call
// Update to persist it.
func (ip *Inode) SetType(typ Type) { ip.e.typ = typ }
