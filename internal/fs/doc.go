// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: Represents an open file with read/write/sync capabilities
//   - [FileSystem]: Abstracts filesystem operations (open, remove, rename, etc.)
//
// # Implementations
//
//   - [LocalFS]: Production implementation using standard os package
//   - [FaultyFS]: Test utility for fault injection (simulate I/O errors and crashes)
//
// # Atomic Writes
//
// [WriteFileAtomic] is the only write primitive the manifest chain uses:
//
//	path.tmp -> (fsync) -> rename(path.tmp, path) -> (fsync dir)
//
// Rename is atomic on POSIX. On Windows the rename is implemented with
// MoveFileEx(MOVEFILE_REPLACE_EXISTING|MOVEFILE_WRITE_THROUGH) so callers get the
// same replace-or-nothing behavior behind the same function.
//
// # Usage
//
// Production code should use fs.Default (which is [LocalFS]):
//
//	err := fs.WriteFileAtomic(fs.Default, path, data, fs.SyncFile)
//
// Tests can inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("current.json", fs.Fault{FailOnRename: true})
//	// inject ffs into component under test
//
// # Design Notes
//
// This package intentionally does NOT include context.Context parameters.
// Filesystem operations are typically fast (microseconds for local NVMe) and
// non-interruptible at the syscall level.
package fs
