package blockdev

import (
	"sync"

	"github.com/xv6fs/xv6fs/pkg/superblock"
)

// MemDevice is an in-memory Device used by the tests; the mkfs, fsck and
// shell commands use FileDevice. It has no durability: Sync and Close are
// no-ops beyond bookkeeping.
type MemDevice struct {
	mu     sync.RWMutex
	blocks [][]byte
	closed bool
}

// NewMemDevice allocates a zero-filled in-memory device of numBlocks blocks.
func NewMemDevice(numBlocks uint32) *MemDevice {
	blocks := make([][]byte, numBlocks)
	for i := range blocks {
		blocks[i] = make([]byte, superblock.BSIZE)
	}
	return &MemDevice{blocks: blocks}
}

func (d *MemDevice) ReadBlock(blockno uint32, dst []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return errClosed
	}
	if err := checkBlock(d, blockno, len(dst)); err != nil {
		return err
	}
	copy(dst[:superblock.BSIZE], d.blocks[blockno])
	return nil
}

func (d *MemDevice) WriteBlock(blockno uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errClosed
	}
	if err := checkBlock(d, blockno, len(src)); err != nil {
		return err
	}
	copy(d.blocks[blockno], src[:superblock.BSIZE])
	return nil
}

func (d *MemDevice) NumBlocks() uint32 {
	return uint32(len(d.blocks))
}

func (d *MemDevice) Sync() error { return nil }

func (d *MemDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
