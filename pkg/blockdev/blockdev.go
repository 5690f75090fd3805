// Package blockdev provides the external block-device collaborator the
// storage stack is built against: synchronous fixed-size block I/O.
// The physical device driver itself is explicitly out of scope; this
// package supplies the minimal interface plus a file-backed
// implementation so the stack can run against a regular file image.
package blockdev

import "github.com/xv6fs/xv6fs/pkg/superblock"

// Device is the synchronous block I/O interface consumed by BufferCache.
// All methods must be safe for concurrent use by multiple goroutines;
// BufferCache serializes access per block via its sleep-locks, but
// different blocks may be read/written concurrently.
type Device interface {
	// ReadBlock reads exactly superblock.BSIZE bytes for blockno into dst.
	ReadBlock(blockno uint32, dst []byte) error

	// WriteBlock writes exactly superblock.BSIZE bytes from src to blockno.
	WriteBlock(blockno uint32, src []byte) error

	// NumBlocks returns the total block count of the device.
	NumBlocks() uint32

	// Sync flushes any buffered writes to stable storage.
	Sync() error

	// Close releases the device's resources.
	Close() error
}

func checkBlock(dev Device, blockno uint32, bufLen int) error {
	if bufLen < superblock.BSIZE {
		return errShortBuffer
	}
	if blockno >= dev.NumBlocks() {
		return errOutOfRange
	}
	return nil
}
