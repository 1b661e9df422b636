//go:build !windows

package fs

import "os"

func rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}
