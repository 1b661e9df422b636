//go:build linux

package fs

import "golang.org/x/sys/unix"

const dirSyncSupported = true

// syncFile uses fdatasync where the file exposes a descriptor; file size and
// data are what matter for the staged write, not timestamps.
func syncFile(f File) error {
	if fd, ok := f.(interface{ Fd() uintptr }); ok {
		for {
			err := unix.Fdatasync(int(fd.Fd()))
			if err != unix.EINTR {
				return err
			}
		}
	}
	return f.Sync()
}
