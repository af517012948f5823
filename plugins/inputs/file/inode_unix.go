//go:build !windows

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// inodeOf extracts the inode backing path; unix file systems expose it
// directly through stat(2) (spec §3 "Tail state").
func inodeOf(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Ino), nil
}

func statInode(fi os.FileInfo) uint64 {
	st, ok := fi.Sys().(*unix.Stat_t)
	if !ok {
		return 0
	}
	return uint64(st.Ino)
}
