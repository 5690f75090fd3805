package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the storage stack.
// Use these consistently so log lines stay queryable by key regardless
// of which layer emitted them.
const (
	// File system operations.
	KeyPath       = "path"        // full file/directory path
	KeyParentPath = "parent_path" // parent directory path
	KeyType       = "type"        // inode type: file, directory, symlink, device
	KeySize       = "size"        // file size in bytes

	// I/O operations.
	KeyOffset       = "offset"        // file offset for read/write
	KeyCount        = "count"         // byte count requested
	KeyBytesRead    = "bytes_read"    // actual bytes read
	KeyBytesWritten = "bytes_written" // actual bytes written

	// Operation metadata.
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyOperation  = "operation"   // sub-operation type

	// Inode table / block map.
	KeyInodeID = "inum" // inode number
	KeyBlockNo = "blockno"

	// Buffer cache.
	KeyCacheHit      = "cache_hit"      // cache hit indicator
	KeyCacheSize     = "cache_size"     // current cache occupancy
	KeyCacheCapacity = "cache_capacity" // maximum cache capacity
	KeyEvicted       = "evicted"        // number of buffers evicted/stolen

	// Directory and link operations.
	KeyEntries    = "entries"     // number of directory entries
	KeyLinkTarget = "link_target" // symlink target path
	KeyLinkCount  = "link_count"  // hard link count
)

// Path returns a slog.Attr for a file/directory path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// ParentPath returns a slog.Attr for a parent directory path.
func ParentPath(p string) slog.Attr {
	return slog.String(KeyParentPath, p)
}

// TypeStr returns a slog.Attr for an inode type rendered as a string.
func TypeStr(t string) slog.Attr {
	return slog.String(KeyType, t)
}

// Size returns a slog.Attr for a file size in bytes.
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// Offset returns a slog.Attr for a file offset.
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Count returns a slog.Attr for a requested byte count.
func Count(c uint32) slog.Attr {
	return slog.Any(KeyCount, c)
}

// BytesRead returns a slog.Attr for actual bytes read.
func BytesRead(n int) slog.Attr {
	return slog.Int(KeyBytesRead, n)
}

// BytesWritten returns a slog.Attr for actual bytes written.
func BytesWritten(n int) slog.Attr {
	return slog.Int(KeyBytesWritten, n)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error, or a no-op attribute if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr for a sub-operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// InodeID returns a slog.Attr for an inode number.
func InodeID(inum uint32) slog.Attr {
	return slog.Any(KeyInodeID, inum)
}

// BlockNo returns a slog.Attr for a block number.
func BlockNo(blockno uint32) slog.Attr {
	return slog.Any(KeyBlockNo, blockno)
}

// CacheHit returns a slog.Attr for a cache hit/miss indicator.
func CacheHit(hit bool) slog.Attr {
	return slog.Bool(KeyCacheHit, hit)
}

// CacheSize returns a slog.Attr for current cache occupancy.
func CacheSize(size int64) slog.Attr {
	return slog.Int64(KeyCacheSize, size)
}

// CacheCapacity returns a slog.Attr for maximum cache capacity.
func CacheCapacity(capacity int64) slog.Attr {
	return slog.Int64(KeyCacheCapacity, capacity)
}

// Evicted returns a slog.Attr for the number of buffers evicted/stolen.
func Evicted(n int) slog.Attr {
	return slog.Int(KeyEvicted, n)
}

// Entries returns a slog.Attr for a directory entry count.
func Entries(n int) slog.Attr {
	return slog.Int(KeyEntries, n)
}

// LinkTarget returns a slog.Attr for a symlink target path.
func LinkTarget(target string) slog.Attr {
	return slog.String(KeyLinkTarget, target)
}

// LinkCount returns a slog.Attr for a hard link count.
func LinkCount(count int16) slog.Attr {
	return slog.Any(KeyLinkCount, count)
}
