// Package fserrors defines the recoverable error model shared by every
// layer of the storage stack: buffer cache, log, block allocator, inode
// layer, and path/directory resolution.
package fserrors

import (
	"errors"
	"fmt"
)

// Code classifies a recoverable failure. Every core-facing operation that
// can fail returns either nil or an *Error built from one of these.
type Code int

const (
	// CodeNotFound indicates a missing path element, inode, or directory entry.
	CodeNotFound Code = iota
	// CodeInvalidArgument indicates a non-directory used as a directory,
	// a path component too long, or an offset outside the writable range.
	CodeInvalidArgument
	// CodeExhausted indicates no free inode or no free data block.
	// Buffer pool exhaustion is NOT included here: that condition is fatal
	// (see Fatal) because it indicates a leaked reference, not a resource limit.
	CodeExhausted
	// CodeCrossDevice indicates a link operation spanning two devices.
	CodeCrossDevice
	// CodeSymlinkLoop indicates a symlink chain exceeded the depth limit.
	CodeSymlinkLoop
	// CodeNotDirectory indicates an operation required a directory inode.
	CodeNotDirectory
	// CodeIsDirectory indicates an operation refused to act on a directory.
	CodeIsDirectory
	// CodeNameTooLong indicates a directory entry name exceeded DIRSIZ.
	CodeNameTooLong
	// CodeExists indicates a name already present where creation was requested.
	CodeExists
	// CodeNotEmpty indicates an attempt to unlink a non-empty directory.
	CodeNotEmpty
)

func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "not_found"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeExhausted:
		return "exhausted"
	case CodeCrossDevice:
		return "cross_device"
	case CodeSymlinkLoop:
		return "symlink_loop"
	case CodeNotDirectory:
		return "not_directory"
	case CodeIsDirectory:
		return "is_directory"
	case CodeNameTooLong:
		return "name_too_long"
	case CodeExists:
		return "exists"
	case CodeNotEmpty:
		return "not_empty"
	default:
		return "unknown"
	}
}

// Error is a recoverable failure carrying enough context to log and to
// let the caller decide what sentinel to surface upward.
type Error struct {
	Code Code
	Op   string // operation that failed, e.g. "namex", "ialloc", "bmap"
	Path string // path or name involved, empty if not applicable
	Err  error  // wrapped cause, nil for a bare sentinel
}

func (e *Error) Error() string {
	if e.Path == "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Path, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %q: %s", e.Op, e.Path, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a bare *Error with no wrapped cause.
func New(code Code, op, path string) *Error {
	return &Error{Code: code, Op: op, Path: path}
}

// Wrap builds an *Error around an underlying cause, e.g. a block device I/O error.
func Wrap(code Code, op, path string, err error) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: err}
}

func codeOf(err error) (Code, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return 0, false
}

// IsNotFound reports whether err is a CodeNotFound *Error.
func IsNotFound(err error) bool { c, ok := codeOf(err); return ok && c == CodeNotFound }

// IsExhausted reports whether err is a CodeExhausted *Error.
func IsExhausted(err error) bool { c, ok := codeOf(err); return ok && c == CodeExhausted }

// IsExists reports whether err is a CodeExists *Error.
func IsExists(err error) bool { c, ok := codeOf(err); return ok && c == CodeExists }

// IsInvalidArgument reports whether err is a CodeInvalidArgument *Error.
func IsInvalidArgument(err error) bool { c, ok := codeOf(err); return ok && c == CodeInvalidArgument }

// IsNotDirectory reports whether err is a CodeNotDirectory *Error.
func IsNotDirectory(err error) bool { c, ok := codeOf(err); return ok && c == CodeNotDirectory }

// IsNotEmpty reports whether err is a CodeNotEmpty *Error.
func IsNotEmpty(err error) bool { c, ok := codeOf(err); return ok && c == CodeNotEmpty }

// Fatal represents an invariant violation: freeing an already-free block,
// using an inode with ref < 1, bwrite/brelse without the sleep-lock held,
// or buffer-pool exhaustion. These are bugs, not recoverable conditions,
// and are never wrapped as *Error - the caller is expected to let the
// panic propagate and crash the process, matching the source's "fatal
// failures are never caught" policy.
func Fatal(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}
