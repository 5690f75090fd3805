package walog_test

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xv6fs/xv6fs/pkg/blockdev"
	"github.com/xv6fs/xv6fs/pkg/bufcache"
	"github.com/xv6fs/xv6fs/pkg/superblock"
	"github.com/xv6fs/xv6fs/pkg/walog"
)

func newFixture(t *testing.T) (*bufcache.Cache, *superblock.Superblock) {
	t.Helper()
	sb := superblock.Layout(4096, 200)
	dev := blockdev.NewMemDevice(sb.Size)
	cache := bufcache.New(dev, nil)
	return cache, sb
}

func TestCommitInstallsBlocks(t *testing.T) {
	cache, sb := newFixture(t)
	log := walog.Open(cache, sb, nil)

	log.BeginOp()
	buf, err := cache.Read(sb.DataStart)
	require.NoError(t, err)
	copy(buf.Bytes(), []byte("hello"))
	log.LogWrite(buf)
	cache.Release(buf)
	log.EndOp()

	verify, err := cache.Read(sb.DataStart)
	require.NoError(t, err)
	require.Equal(t, "hello", string(verify.Bytes()[:5]))
	cache.Release(verify)
}

func TestLogWriteSameBlockTwiceCollapses(t *testing.T) {
	cache, sb := newFixture(t)
	log := walog.Open(cache, sb, nil)

	log.BeginOp()
	buf, err := cache.Read(sb.DataStart)
	require.NoError(t, err)
	copy(buf.Bytes(), []byte("first"))
	log.LogWrite(buf)
	copy(buf.Bytes(), []byte("second"))
	log.LogWrite(buf)
	cache.Release(buf)
	log.EndOp()

	verify, err := cache.Read(sb.DataStart)
	require.NoError(t, err)
	require.Equal(t, "second", string(verify.Bytes()[:6]))
	cache.Release(verify)
}

func TestGroupCommitBatchesConcurrentHandles(t *testing.T) {
	cache, sb := newFixture(t)
	log := walog.Open(cache, sb, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n uint32) {
			defer wg.Done()
			log.BeginOp()
			buf, err := cache.Read(sb.DataStart + n)
			require.NoError(t, err)
			buf.Bytes()[0] = byte(n)
			log.LogWrite(buf)
			cache.Release(buf)
			log.EndOp()
		}(uint32(i))
	}
	wg.Wait()

	for i := uint32(0); i < 10; i++ {
		verify, err := cache.Read(sb.DataStart + i)
		require.NoError(t, err)
		require.Equal(t, byte(i), verify.Bytes()[0])
		cache.Release(verify)
	}
}

// writeRawHeader encodes a log header directly onto the device, bypassing
// walog entirely, matching the on-disk layout walog.go's onDiskHeader uses:
// n (uint32) followed by LOGSIZE uint32 destination block numbers.
func writeRawHeader(t *testing.T, cache *bufcache.Cache, sb *superblock.Superblock, n uint32, dest []uint32) {
	t.Helper()
	buf, err := cache.Read(sb.LogStart)
	require.NoError(t, err)
	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[0:4], n)
	for i, d := range dest {
		off := 4 + i*4
		binary.LittleEndian.PutUint32(data[off:off+4], d)
	}
	require.NoError(t, cache.Write(buf))
	cache.Release(buf)
}

func readRawHeaderN(t *testing.T, cache *bufcache.Cache, sb *superblock.Superblock) uint32 {
	t.Helper()
	buf, err := cache.Read(sb.LogStart)
	require.NoError(t, err)
	n := binary.LittleEndian.Uint32(buf.Bytes()[0:4])
	cache.Release(buf)
	return n
}

// TestRecoveryInstallsCommittedButUninstalledTransaction fabricates the
// exact crash state spec.md's recovery guarantee is about: a header
// committed with n>0 (the commit point) whose log body was never copied
// out to its destination block. walog.Open must replay it and clear the
// header, without ever going through a live BeginOp/EndOp transaction.
func TestRecoveryInstallsCommittedButUninstalledTransaction(t *testing.T) {
	sb := superblock.Layout(4096, 200)
	dev := blockdev.NewMemDevice(sb.Size)
	cache := bufcache.New(dev, nil)

	dest := sb.DataStart

	// Pre-crash on-disk state: the destination block still holds its old
	// contents.
	old, err := cache.Read(dest)
	require.NoError(t, err)
	copy(old.Bytes(), []byte("old-value"))
	require.NoError(t, cache.Write(old))
	cache.Release(old)

	// Fabricate the post-commit-point, pre-install crash state directly:
	// log body slot 0 holds the new contents, and the header has already
	// been durably written with n=1, block[0]=dest - commit's step 2
	// completed, step 3 (installing to dest) never ran.
	body, err := cache.Read(sb.LogStart + 1)
	require.NoError(t, err)
	copy(body.Bytes(), []byte("new-value"))
	require.NoError(t, cache.Write(body))
	cache.Release(body)

	writeRawHeader(t, cache, sb, 1, []uint32{dest})

	// Opening the log must run recovery: replay log body 0 into dest, then
	// clear the header.
	_ = walog.Open(cache, sb, nil)

	verify, err := cache.Read(dest)
	require.NoError(t, err)
	require.Equal(t, "new-value", string(verify.Bytes()[:9]))
	cache.Release(verify)

	require.Zero(t, readRawHeaderN(t, cache, sb))
}

// TestRecoveryIsIdempotent applies recovery twice to the same
// post-crash image and requires the second pass to be a no-op, per
// spec.md §8's recovery-idempotence round-trip.
func TestRecoveryIsIdempotent(t *testing.T) {
	sb := superblock.Layout(4096, 200)
	dev := blockdev.NewMemDevice(sb.Size)
	cache := bufcache.New(dev, nil)

	dest := sb.DataStart
	body, err := cache.Read(sb.LogStart + 1)
	require.NoError(t, err)
	copy(body.Bytes(), []byte("replayed"))
	require.NoError(t, cache.Write(body))
	cache.Release(body)
	writeRawHeader(t, cache, sb, 1, []uint32{dest})

	_ = walog.Open(cache, sb, nil)

	verify, err := cache.Read(dest)
	require.NoError(t, err)
	require.Equal(t, "replayed", string(verify.Bytes()[:8]))
	cache.Release(verify)
	require.Zero(t, readRawHeaderN(t, cache, sb))

	// Re-opening against the now-recovered image (header n=0) must be a
	// no-op: the destination block is untouched.
	_ = walog.Open(cache, sb, nil)

	verify2, err := cache.Read(dest)
	require.NoError(t, err)
	require.Equal(t, "replayed", string(verify2.Bytes()[:8]))
	cache.Release(verify2)
}
