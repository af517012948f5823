//go:build windows

package file

import (
	"os"

	"golang.org/x/sys/windows"
)

// inodeOf has no direct Windows equivalent; the NTFS file index pair
// (FileIndexHigh/Low) serves the same identity role — it changes across
// delete+recreate the same way a Unix inode does.
func inodeOf(path string) (uint64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	h, err := windows.CreateFile(p, windows.GENERIC_READ, windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(h)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return 0, err
	}
	return uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow), nil
}

func statInode(fi os.FileInfo) uint64 {
	return 0
}
