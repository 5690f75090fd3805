package inode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xv6fs/xv6fs/pkg/alloc"
	"github.com/xv6fs/xv6fs/pkg/blockdev"
	"github.com/xv6fs/xv6fs/pkg/bufcache"
	"github.com/xv6fs/xv6fs/pkg/inode"
	"github.com/xv6fs/xv6fs/pkg/superblock"
	"github.com/xv6fs/xv6fs/pkg/walog"
)

func newTable(t *testing.T, totalBlocks, ninodes uint32) (*inode.Table, *walog.Log) {
	t.Helper()
	dev := blockdev.NewMemDevice(totalBlocks)
	sb := superblock.Layout(totalBlocks, ninodes)
	require.NotZero(t, sb.NBlocks)

	var raw [superblock.BSIZE]byte
	sb.Encode(raw[:])
	require.NoError(t, dev.WriteBlock(1, raw[:]))

	cache := bufcache.New(dev, nil)
	log := walog.Open(cache, sb, nil)
	allocator := alloc.New(cache, log, sb, nil)
	return inode.New(cache, log, allocator, sb), log
}

func TestAllocLockUpdatePersists(t *testing.T) {
	table, log := newTable(t, 2048, 200)

	log.BeginOp()
	ip, err := table.Alloc(inode.TypeFile, 0, 0)
	require.NoError(t, err)
	ip.Lock()
	ip.SetNlink(1)
	ip.Update()
	inum := ip.Inum()
	ip.Unlock()
	ip.Put()
	log.EndOp()

	log.BeginOp()
	reopened := table.Get(inum)
	reopened.Lock()
	require.Equal(t, inode.TypeFile, reopened.Type())
	require.EqualValues(t, 1, reopened.Nlink())
	reopened.Unlock()
	reopened.Put()
	log.EndOp()
}

func TestReadWriteRoundTrip(t *testing.T) {
	table, log := newTable(t, 2048, 200)

	log.BeginOp()
	ip, err := table.Alloc(inode.TypeFile, 0, 0)
	require.NoError(t, err)
	ip.Lock()
	ip.SetNlink(1)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	n, err := ip.Write(payload, 0, uint32(len(payload)))
	require.NoError(t, err)
	require.EqualValues(t, len(payload), n)
	require.EqualValues(t, len(payload), ip.Size())

	dst := make([]byte, len(payload))
	n, err = ip.Read(dst, 0, uint32(len(payload)))
	require.NoError(t, err)
	require.EqualValues(t, len(payload), n)
	require.Equal(t, payload, dst)

	ip.Unlock()
	ip.Put()
	log.EndOp()
}

func TestReadOffsetEqualsSizeReturnsZeroNoError(t *testing.T) {
	table, log := newTable(t, 2048, 200)

	log.BeginOp()
	ip, err := table.Alloc(inode.TypeFile, 0, 0)
	require.NoError(t, err)
	ip.Lock()
	ip.SetNlink(1)
	_, err = ip.Write([]byte("abc"), 0, 3)
	require.NoError(t, err)

	dst := make([]byte, 4)
	n, err := ip.Read(dst, 3, 4)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = ip.Read(dst, 10, 4)
	require.NoError(t, err)
	require.Zero(t, n)

	ip.Unlock()
	ip.Put()
	log.EndOp()
}

func TestWriteOffsetPastSizeRejected(t *testing.T) {
	table, log := newTable(t, 2048, 200)

	log.BeginOp()
	ip, err := table.Alloc(inode.TypeFile, 0, 0)
	require.NoError(t, err)
	ip.Lock()
	ip.SetNlink(1)

	_, err = ip.Write([]byte("x"), 10, 1)
	require.Error(t, err)

	ip.Unlock()
	ip.Put()
	log.EndOp()
}

func TestBlockMapSpansAllThreeRegimes(t *testing.T) {
	table, log := newTable(t, 70000, 200)

	log.BeginOp()
	ip, err := table.Alloc(inode.TypeFile, 0, 0)
	require.NoError(t, err)
	ip.Lock()
	ip.SetNlink(1)

	// NDIRECT direct blocks, + NIND1 singly-indirect, + a handful
	// doubly-indirect, enough to exercise every regime.
	totalBlocks := superblock.NDIRECT + superblock.NIND1 + 3
	size := uint32(totalBlocks) * superblock.BSIZE
	pattern := make([]byte, size)
	for i := range pattern {
		pattern[i] = byte((i * 7) % 251)
	}

	n, err := ip.Write(pattern, 0, size)
	require.NoError(t, err)
	require.EqualValues(t, size, n)

	readBack := make([]byte, size)
	n, err = ip.Read(readBack, 0, size)
	require.NoError(t, err)
	require.EqualValues(t, size, n)
	require.Equal(t, pattern, readBack)

	ip.Truncate()
	require.EqualValues(t, 0, ip.Size())

	ip.Unlock()
	ip.Put()
	log.EndOp()
}

func TestPutFreesInodeWhenNlinkReachesZero(t *testing.T) {
	table, log := newTable(t, 2048, 200)

	log.BeginOp()
	ip, err := table.Alloc(inode.TypeFile, 0, 0)
	require.NoError(t, err)
	inum := ip.Inum()
	ip.Lock()
	ip.SetNlink(1)
	_, err = ip.Write([]byte("data"), 0, 4)
	require.NoError(t, err)
	ip.SetNlink(0)
	ip.Update()
	ip.Unlock()
	ip.Put()
	log.EndOp()

	log.BeginOp()
	reused, err := table.Alloc(inode.TypeFile, 0, 0)
	require.NoError(t, err)
	require.Equal(t, inum, reused.Inum())
	reused.Lock()
	require.EqualValues(t, 0, reused.Size())
	reused.Unlock()
	reused.Put()
	log.EndOp()
}
