package blockdev

import "errors"

var (
	errShortBuffer = errors.New("blockdev: buffer shorter than block size")
	errOutOfRange  = errors.New("blockdev: block number out of range")
	errClosed      = errors.New("blockdev: device is closed")
)
