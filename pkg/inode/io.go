package inode

import (
	"github.com/xv6fs/xv6fs/internal/logger"
	"github.com/xv6fs/xv6fs/pkg/fserrors"
	"github.com/xv6fs/xv6fs/pkg/superblock"
)

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// Read implements readi: copy up to n bytes starting at off into dst,
// returning the number of bytes actually copied. Tolerates off == size
// (returns 0, nil); off > size also returns 0, nil, matching
// original_source/kernel/fs.c's readi exactly (SPEC_FULL.md §9's
// boundary-asymmetry decision). Caller must hold Lock.
func (ip *Inode) Read(dst []byte, off, n uint32) (uint32, error) {
	e := ip.e
	if off > e.size {
		return 0, nil
	}
	if off+n < off {
		return 0, fserrors.New(fserrors.CodeInvalidArgument, "readi", "")
	}
	if off+n > e.size {
		n = e.size - off
	}

	var total uint32
	for total < n {
		bn := (off + total) / superblock.BSIZE
		boff := (off + total) % superblock.BSIZE

		blockno, err := ip.bmap(bn)
		if err != nil {
			return total, err
		}

		buf, err := ip.t.cache.Read(blockno)
		if err != nil {
			return total, fserrors.Wrap(fserrors.CodeInvalidArgument, "readi", "", err)
		}

		m := min32(n-total, superblock.BSIZE-boff)
		copy(dst[total:total+m], buf.Bytes()[boff:boff+m])
		ip.t.cache.Release(buf)

		total += m
	}

	return total, nil
}

// Write implements writei: copy up to n bytes from src to offset off.
// Rejects off > size or off+n > MAXFILE*BSIZE outright. Allows off ==
// size (file growth). If a data block allocation fails partway through
// (device exhausted), the write stops and returns the partial count
// with no error - matching original_source/kernel/fs.c's writei, whose
// caller (filewrite) compares the returned count to the requested
// count to detect a short write. Whenever bmap may have allocated new
// blocks, Update is called even if size itself did not grow. Caller
// must hold Lock and be inside an active transaction.
func (ip *Inode) Write(src []byte, off, n uint32) (uint32, error) {
	e := ip.e
	if off > e.size {
		return 0, fserrors.New(fserrors.CodeInvalidArgument, "writei", "")
	}
	if off+n < off || uint64(off)+uint64(n) > uint64(superblock.MAXFILE)*superblock.BSIZE {
		return 0, fserrors.New(fserrors.CodeInvalidArgument, "writei", "")
	}

	var total uint32
	for total < n {
		bn := (off + total) / superblock.BSIZE
		boff := (off + total) % superblock.BSIZE

		blockno, err := ip.bmap(bn)
		if err != nil {
			logger.Debug("inode: writei: short write", logger.InodeID(e.inum), logger.BytesWritten(int(total)), logger.Count(n))
			break
		}

		buf, err := ip.t.cache.Read(blockno)
		if err != nil {
			fserrors.Fatal("inode: writei: read data block: %v", err)
		}

		m := min32(n-total, superblock.BSIZE-boff)
		copy(buf.Bytes()[boff:boff+m], src[total:total+m])
		ip.t.log.LogWrite(buf)
		ip.t.cache.Release(buf)

		total += m
	}

	if off+total > e.size {
		e.size = off + total
	}
	ip.updateLocked()

	return total, nil
}
