//go:build windows

package fs

// Directories cannot be opened for FlushFileBuffers on Windows; MoveFileEx with
// MOVEFILE_WRITE_THROUGH already flushes the rename.
const dirSyncSupported = false

func syncFile(f File) error {
	return f.Sync()
}
