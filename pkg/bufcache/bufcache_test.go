package bufcache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xv6fs/xv6fs/pkg/blockdev"
	"github.com/xv6fs/xv6fs/pkg/superblock"
)

func newTestCache(t *testing.T, numBlocks uint32) (*Cache, blockdev.Device) {
	t.Helper()
	dev := blockdev.NewMemDevice(numBlocks)
	return New(dev, nil), dev
}

func TestReadWriteRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, 100)

	buf, err := c.Read(5)
	require.NoError(t, err)
	require.True(t, buf.Valid())
	copy(buf.Bytes(), []byte("hello"))
	require.NoError(t, c.Write(buf))
	c.Release(buf)

	buf2, err := c.Read(5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf2.Bytes()[:5]))
	c.Release(buf2)
}

func TestAcquireSameBlockRefcounts(t *testing.T) {
	c, _ := newTestCache(t, 100)

	b1 := c.Acquire(3)
	// Acquire of the same block from a different goroutine should block
	// until b1 is released, since the sleep-lock is held.
	done := make(chan struct{})
	go func() {
		b2 := c.Acquire(3)
		require.Equal(t, uint32(3), b2.Blockno())
		c.Release(b2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should not have completed while first buffer is held")
	default:
	}

	c.Release(b1)
	<-done
}

func TestDistinctBuffersHaveDistinctIdentity(t *testing.T) {
	c, _ := newTestCache(t, 100)

	seen := map[uint32]bool{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := uint32(0); i < 20; i++ {
		wg.Add(1)
		go func(blockno uint32) {
			defer wg.Done()
			buf := c.Acquire(blockno)
			mu.Lock()
			require.False(t, seen[blockno], "block %d acquired twice concurrently", blockno)
			seen[blockno] = true
			mu.Unlock()
			c.Release(buf)
		}(i)
	}
	wg.Wait()
}

func TestBucketStealAcrossFullPool(t *testing.T) {
	// NBUF buffers, all homed in bucket 0 at start. Acquire NBUF distinct
	// blocks and release each immediately: blocks 1..NBuckets-1 find their
	// home bucket empty and steal an idle buffer from bucket 0, while later
	// blocks reuse the idle buffer already homed in their bucket. Then
	// acquire one more block, which repurposes an idle buffer as well.
	c, _ := newTestCache(t, 1000)

	for i := uint32(0); i < superblock.NBUF; i++ {
		buf := c.Acquire(i)
		c.Release(buf)
	}

	buf := c.Acquire(superblock.NBUF)
	require.Equal(t, uint32(superblock.NBUF), buf.Blockno())
	c.Release(buf)
}

func TestPinPreventsRepurposeAccounting(t *testing.T) {
	c, _ := newTestCache(t, 100)

	buf := c.Acquire(1)
	c.Pin(buf)
	c.Release(buf) // refcnt now 1 due to the pin, buffer stays "in use"

	// Re-acquiring the same block must hit the identity match, not repurpose.
	buf2 := c.Acquire(1)
	require.Equal(t, uint32(1), buf2.Blockno())
	c.Unpin(buf2)
	c.Release(buf2)
}

func TestWriteWithoutLockIsFatal(t *testing.T) {
	c, _ := newTestCache(t, 10)
	buf := c.Acquire(0)
	c.Release(buf)

	require.Panics(t, func() {
		_ = c.Write(buf)
	})
}
