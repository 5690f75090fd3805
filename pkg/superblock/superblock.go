// Package superblock defines the on-disk layout constants and the
// superblock record read once at mount and never mutated after.
package superblock

import (
	"encoding/binary"
	"fmt"
)

// Block and file-map geometry. These mirror the xv6 lab constants the
// inode layer's bmap regimes are built against (see pkg/inode).
const (
	// BSIZE is the fixed block size in bytes.
	BSIZE = 1024

	// NDIRECT is the number of direct block pointers per inode.
	NDIRECT = 12

	// NINDIRECT is the number of block pointers that fit in one indirect block.
	NINDIRECT = BSIZE / 4

	// NIND1 is the number of logical blocks addressable via the singly-indirect slot.
	NIND1 = NINDIRECT

	// NIND2 is the number of logical blocks addressable via the doubly-indirect slot.
	NIND2 = NINDIRECT * NINDIRECT

	// MAXFILE is the maximum file size in blocks: direct + singly + doubly indirect.
	MAXFILE = NDIRECT + NIND1 + NIND2

	// NADDRS is the size of an on-disk inode's address array:
	// NDIRECT direct slots plus one singly-indirect and one doubly-indirect slot.
	NADDRS = NDIRECT + 2

	// DIRSIZ is the maximum length of a directory entry name.
	DIRSIZ = 14

	// MAXPATH is the maximum length of a path, and the fixed size of a
	// symlink target stored as the link file's contents at offset 0.
	MAXPATH = 128

	// Magic identifies a formatted image.
	Magic = uint32(0x10203040)

	// MAXOPBLOCKS bounds the blocks a single transaction handle may log.
	MAXOPBLOCKS = 10

	// LOGSIZE is the number of body blocks in the log region, sized to
	// hold MAXOPBLOCKS*3 concurrently-absorbed writes (group commit headroom).
	LOGSIZE = MAXOPBLOCKS * 3

	// NBUF is the size of the fixed buffer pool.
	NBUF = 30
)

// DinodeSize is the on-disk size in bytes of one inode record:
// type | major | minor | nlink (int16 each) + size (uint32) + NADDRS*uint32.
const DinodeSize = 2 + 2 + 2 + 2 + 4 + NADDRS*4

// IPB is the number of on-disk inodes packed per block.
const IPB = BSIZE / DinodeSize

// BPB is the number of bitmap bits (data blocks tracked) per bitmap block.
const BPB = BSIZE * 8

// Superblock is read from block 1 at mount and held immutable thereafter.
type Superblock struct {
	Magic       uint32
	Size        uint32 // total blocks on the device
	NBlocks     uint32 // number of data blocks
	NInodes     uint32 // number of inodes
	NLog        uint32 // number of log blocks (header + body)
	LogStart    uint32 // first log block
	InodeStart  uint32 // first inode block
	BmapStart   uint32 // first free-bitmap block
	DataStart   uint32 // first data block
}

// Size is the on-disk superblock record size in bytes.
const Size = 4 * 9

// IBlock returns the block number containing inode inum.
func (sb *Superblock) IBlock(inum uint32) uint32 {
	return sb.InodeStart + inum/IPB
}

// BBlock returns the bitmap block number containing the bit for data block b.
func (sb *Superblock) BBlock(b uint32) uint32 {
	return sb.BmapStart + b/BPB
}

// Encode serializes the superblock into a BSIZE-byte block buffer.
func (sb *Superblock) Encode(block []byte) {
	if len(block) < Size {
		panic("superblock: block buffer too small")
	}
	binary.LittleEndian.PutUint32(block[0:4], sb.Magic)
	binary.LittleEndian.PutUint32(block[4:8], sb.Size)
	binary.LittleEndian.PutUint32(block[8:12], sb.NBlocks)
	binary.LittleEndian.PutUint32(block[12:16], sb.NInodes)
	binary.LittleEndian.PutUint32(block[16:20], sb.NLog)
	binary.LittleEndian.PutUint32(block[20:24], sb.LogStart)
	binary.LittleEndian.PutUint32(block[24:28], sb.InodeStart)
	binary.LittleEndian.PutUint32(block[28:32], sb.BmapStart)
	binary.LittleEndian.PutUint32(block[32:36], sb.DataStart)
}

// Decode parses a superblock out of a BSIZE-byte block buffer.
func Decode(block []byte) (*Superblock, error) {
	if len(block) < Size {
		return nil, fmt.Errorf("superblock: block too small: %d bytes", len(block))
	}
	sb := &Superblock{
		Magic:      binary.LittleEndian.Uint32(block[0:4]),
		Size:       binary.LittleEndian.Uint32(block[4:8]),
		NBlocks:    binary.LittleEndian.Uint32(block[8:12]),
		NInodes:    binary.LittleEndian.Uint32(block[12:16]),
		NLog:       binary.LittleEndian.Uint32(block[16:20]),
		LogStart:   binary.LittleEndian.Uint32(block[20:24]),
		InodeStart: binary.LittleEndian.Uint32(block[24:28]),
		BmapStart:  binary.LittleEndian.Uint32(block[28:32]),
		DataStart:  binary.LittleEndian.Uint32(block[32:36]),
	}
	if sb.Magic != Magic {
		return nil, fmt.Errorf("superblock: bad magic %#x", sb.Magic)
	}
	return sb, nil
}

// Layout computes a superblock for a device of the given total block count,
// with ninodes inodes. Used by mkfs. The region order matches §6:
// boot | superblock | log | inodes | bitmap | data.
func Layout(totalBlocks, ninodes uint32) *Superblock {
	nlog := uint32(LOGSIZE + 1)
	logStart := uint32(2) // block 0 boot, block 1 superblock
	inodeStart := logStart + nlog
	inodeBlocks := (ninodes + IPB - 1) / IPB
	bmapStart := inodeStart + inodeBlocks

	// Data blocks are whatever remains after log+inodes+bitmap, but the
	// bitmap itself must cover exactly that many data blocks - solve
	// iteratively since bitmap size depends on data block count.
	used := bmapStart
	var nblocks uint32
	for {
		remaining := totalBlocks - used
		bmapBlocks := (remaining + BPB - 1) / BPB
		if used+bmapBlocks > totalBlocks {
			nblocks = 0
			break
		}
		candidateData := totalBlocks - used - bmapBlocks
		neededBmapBlocks := (candidateData + BPB - 1) / BPB
		if neededBmapBlocks == bmapBlocks {
			nblocks = candidateData
			bmapStart = used
			break
		}
		used++ // start the bitmap one block later (that block stays unused) and retry
	}

	return &Superblock{
		Magic:      Magic,
		Size:       totalBlocks,
		NBlocks:    nblocks,
		NInodes:    ninodes,
		NLog:       nlog,
		LogStart:   logStart,
		InodeStart: inodeStart,
		BmapStart:  bmapStart,
		DataStart:  bmapStart + (nblocks+BPB-1)/BPB,
	}
}
