//go:build !linux && !windows

package fs

const dirSyncSupported = true

func syncFile(f File) error {
	return f.Sync()
}
