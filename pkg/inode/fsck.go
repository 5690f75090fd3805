package inode

import (
	"encoding/binary"

	"github.com/xv6fs/xv6fs/pkg/superblock"
)

// Blocks returns every block number this inode references: its direct
// slots, its singly-indirect block plus the blocks it points to, and
// its doubly-indirect root plus every inner indirect block and the
// blocks those point to. Unlike bmap, this never allocates — a zero
// slot is simply skipped. Used by fsck to cross-check the free-block
// bitmap against what inodes actually reference. Caller must hold Lock.
func (ip *Inode) Blocks() []uint32 {
	e := ip.e
	var blocks []uint32

	for i := 0; i < superblock.NDIRECT; i++ {
		if e.addrs[i] != 0 {
			blocks = append(blocks, e.addrs[i])
		}
	}

	if indirect := e.addrs[superblock.NDIRECT]; indirect != 0 {
		blocks = append(blocks, indirect)
		blocks = append(blocks, ip.readIndirectBlockEntries(indirect)...)
	}

	if outer := e.addrs[superblock.NDIRECT+1]; outer != 0 {
		blocks = append(blocks, outer)
		for _, inner := range ip.readIndirectBlockEntries(outer) {
			blocks = append(blocks, inner)
			blocks = append(blocks, ip.readIndirectBlockEntries(inner)...)
		}
	}

	return blocks
}

// readIndirectBlockEntries returns every non-zero block number stored
// in the indirect block at blockno, without allocating or logging.
func (ip *Inode) readIndirectBlockEntries(blockno uint32) []uint32 {
	buf, err := ip.t.cache.Read(blockno)
	if err != nil {
		return nil
	}
	defer ip.t.cache.Release(buf)

	var out []uint32
	data := buf.Bytes()
	for i := 0; i < superblock.NINDIRECT; i++ {
		off := i * 4
		if bn := binary.LittleEndian.Uint32(data[off : off+4]); bn != 0 {
			out = append(out, bn)
		}
	}
	return out
}
