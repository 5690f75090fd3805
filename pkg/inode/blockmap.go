package inode

import (
	"encoding/binary"

	"github.com/xv6fs/xv6fs/pkg/fserrors"
	"github.com/xv6fs/xv6fs/pkg/superblock"
)

// bmap implements the three-regime block map described in SPEC_FULL.md
// §4.4: direct slots, then a singly-indirect block, then a
// doubly-indirect block. A zero slot at any level triggers allocation;
// allocation failure propagates as an error ("out of space"). Every
// indirection block touched while filling a zero slot is logged.
// Caller must hold Lock and be inside an active transaction.
func (ip *Inode) bmap(n uint32) (uint32, error) {
	e := ip.e
	t := ip.t

	if n < superblock.NDIRECT {
		if e.addrs[n] == 0 {
			bn, err := t.alloc.Alloc()
			if err != nil {
				return 0, err
			}
			e.addrs[n] = bn
		}
		return e.addrs[n], nil
	}
	n -= superblock.NDIRECT

	if n < superblock.NIND1 {
		return ip.bmapIndirect(&e.addrs[superblock.NDIRECT], n)
	}
	n -= superblock.NIND1

	if n < superblock.NIND2 {
		outer := n / superblock.NINDIRECT
		inner := n % superblock.NINDIRECT

		outerBlock, err := ip.ensureSlot(&e.addrs[superblock.NDIRECT+1])
		if err != nil {
			return 0, err
		}

		innerBlockSlot, err := ip.readIndirectSlot(outerBlock, outer)
		if err != nil {
			return 0, err
		}
		innerBlock, err := ip.ensureIndirectSlot(outerBlock, outer, innerBlockSlot)
		if err != nil {
			return 0, err
		}

		return ip.bmapIndirectBlock(innerBlock, inner)
	}

	return 0, fserrors.New(fserrors.CodeInvalidArgument, "bmap", "")
}

// ensureSlot allocates a block for *slot if it is currently zero and
// writes the new block number into *slot (caller persists via iupdate).
func (ip *Inode) ensureSlot(slot *uint32) (uint32, error) {
	if *slot == 0 {
		bn, err := ip.t.alloc.Alloc()
		if err != nil {
			return 0, err
		}
		*slot = bn
	}
	return *slot, nil
}

// bmapIndirect resolves a logical index through a single level of
// indirection rooted at *rootSlot, allocating the indirect block itself
// and/or the leaf data block as needed.
func (ip *Inode) bmapIndirect(rootSlot *uint32, idx uint32) (uint32, error) {
	root, err := ip.ensureSlot(rootSlot)
	if err != nil {
		return 0, err
	}
	return ip.bmapIndirectBlock(root, idx)
}

// bmapIndirectBlock resolves logical index idx within the indirect
// block at indirectBlockno, allocating a leaf data block if the slot is
// zero, and logging the indirect block when it is modified.
func (ip *Inode) bmapIndirectBlock(indirectBlockno uint32, idx uint32) (uint32, error) {
	buf, err := ip.t.cache.Read(indirectBlockno)
	if err != nil {
		fserrors.Fatal("inode: bmap: read indirect block: %v", err)
	}

	off := idx * 4
	data := buf.Bytes()
	val := binary.LittleEndian.Uint32(data[off : off+4])
	if val != 0 {
		ip.t.cache.Release(buf)
		return val, nil
	}

	bn, err := ip.t.alloc.Alloc()
	if err != nil {
		ip.t.cache.Release(buf)
		return 0, err
	}
	binary.LittleEndian.PutUint32(data[off:off+4], bn)
	ip.t.log.LogWrite(buf)
	ip.t.cache.Release(buf)
	return bn, nil
}

// readIndirectSlot reads the (possibly zero) block number stored at
// index idx of the indirect block at blockno, without allocating.
func (ip *Inode) readIndirectSlot(blockno uint32, idx uint32) (uint32, error) {
	buf, err := ip.t.cache.Read(blockno)
	if err != nil {
		fserrors.Fatal("inode: bmap: read indirect slot: %v", err)
	}
	off := idx * 4
	val := binary.LittleEndian.Uint32(buf.Bytes()[off : off+4])
	ip.t.cache.Release(buf)
	return val, nil
}

// ensureIndirectSlot allocates a block for index idx of the indirect
// block at blockno if it is currently zero (existing == 0), logging the
// indirect block, and returns the resolved block number.
func (ip *Inode) ensureIndirectSlot(blockno uint32, idx uint32, existing uint32) (uint32, error) {
	if existing != 0 {
		return existing, nil
	}

	buf, err := ip.t.cache.Read(blockno)
	if err != nil {
		fserrors.Fatal("inode: bmap: ensure indirect slot: %v", err)
	}

	bn, err := ip.t.alloc.Alloc()
	if err != nil {
		ip.t.cache.Release(buf)
		return 0, err
	}

	off := idx * 4
	binary.LittleEndian.PutUint32(buf.Bytes()[off:off+4], bn)
	ip.t.log.LogWrite(buf)
	ip.t.cache.Release(buf)
	return bn, nil
}

// freeIndirectBlock frees every non-zero entry of the indirect block at
// blockno, then frees the indirect block itself.
func (ip *Inode) freeIndirectBlock(blockno uint32) {
	buf, err := ip.t.cache.Read(blockno)
	if err != nil {
		fserrors.Fatal("inode: itrunc: read indirect block: %v", err)
	}
	data := buf.Bytes()
	for i := 0; i < superblock.NINDIRECT; i++ {
		off := i * 4
		bn := binary.LittleEndian.Uint32(data[off : off+4])
		if bn != 0 {
			ip.t.alloc.Free(bn)
		}
	}
	ip.t.cache.Release(buf)
	ip.t.alloc.Free(blockno)
}

// Truncate implements itrunc: free every direct, singly-indirect, and
// doubly-indirect block (including the indirection blocks themselves),
// reset size to 0, and persist via Update. Caller must hold Lock and be
// inside an active transaction.
func (ip *Inode) Truncate() {
	ip.truncateLocked()
	ip.updateLocked()
}

func (ip *Inode) truncateLocked() {
	e := ip.e

	for i := 0; i < superblock.NDIRECT; i++ {
		if e.addrs[i] != 0 {
			ip.t.alloc.Free(e.addrs[i])
			e.addrs[i] = 0
		}
	}

	if e.addrs[superblock.NDIRECT] != 0 {
		ip.freeIndirectBlock(e.addrs[superblock.NDIRECT])
		e.addrs[superblock.NDIRECT] = 0
	}

	if e.addrs[superblock.NDIRECT+1] != 0 {
		outerBlockno := e.addrs[superblock.NDIRECT+1]
		outerBuf, err := ip.t.cache.Read(outerBlockno)
		if err != nil {
			fserrors.Fatal("inode: itrunc: read doubly-indirect root: %v", err)
		}
		outerData := outerBuf.Bytes()
		for i := 0; i < superblock.NINDIRECT; i++ {
			off := i * 4
			innerBlockno := binary.LittleEndian.Uint32(outerData[off : off+4])
			if innerBlockno != 0 {
				ip.freeIndirectBlock(innerBlockno)
			}
		}
		ip.t.cache.Release(outerBuf)
		ip.t.alloc.Free(outerBlockno)
		e.addrs[superblock.NDIRECT+1] = 0
	}

	e.size = 0
}
