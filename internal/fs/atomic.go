package fs

import (
	"os"
	"path/filepath"
)

// SyncMode controls which fsync calls WriteFileAtomic issues.
type SyncMode uint8

const (
	// NoSync skips every fsync and relies on OS write-back.
	NoSync SyncMode = iota
	// SyncFile fsyncs the temp file before it is renamed into place.
	SyncFile
	// SyncFileAndDir additionally fsyncs the parent directory after the rename,
	// making the new directory entry durable.
	SyncFileAndDir
)

// TempSuffix is appended to the target path for the staging file.
const TempSuffix = ".tmp"

// WriteFileAtomic replaces path with data so that readers observe either the
// previous content or the new content, never a partial write.
//
// A failed call leaves the previous file untouched and removes the temp file
// on a best-effort basis.
func WriteFileAtomic(fsys FileSystem, path string, data []byte, mode SyncMode) error {
	if fsys == nil {
		fsys = Default
	}

	tmpPath := path + TempSuffix
	f, err := fsys.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()            // Intentionally ignore: cleanup path
		_ = fsys.Remove(tmpPath) // Intentionally ignore: best-effort cleanup
		return err
	}
	if mode >= SyncFile {
		if err := syncFile(f); err != nil {
			_ = f.Close()            // Intentionally ignore: cleanup path
			_ = fsys.Remove(tmpPath) // Intentionally ignore: best-effort cleanup
			return err
		}
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(tmpPath) // Intentionally ignore: best-effort cleanup
		return err
	}

	if err := fsys.Rename(tmpPath, path); err != nil {
		_ = fsys.Remove(tmpPath) // Intentionally ignore: best-effort cleanup
		return err
	}

	if mode >= SyncFileAndDir {
		return SyncDir(fsys, filepath.Dir(path))
	}
	return nil
}

// SyncDir syncs a directory to ensure metadata changes are persisted.
// This is important for durability after creating/renaming files.
func SyncDir(fsys FileSystem, dir string) error {
	if !dirSyncSupported {
		return nil
	}
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // Intentionally ignore: Sync is the important operation
	return f.Sync()
}
