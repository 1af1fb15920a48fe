//go:build unix

package ubifs

import (
	"io/fs"
	"syscall"
)

// statExtras pulls the device/inode/link-count/owner fields out of a
// Unix os.FileInfo's raw syscall.Stat_t, the same type assertion idiom
// used throughout the Go ecosystem (archive/tar, go-diskfs, ...) instead
// of a hand-rolled platform abstraction.
func statExtras(info fs.FileInfo) (dev, ino uint64, nlink uint64, uid, gid uint32, ok bool) {
	st, isStat := info.Sys().(*syscall.Stat_t)
	if !isStat {
		return 0, 0, 0, 0, 0, false
	}
	return uint64(st.Dev), uint64(st.Ino), uint64(st.Nlink), st.Uid, st.Gid, true
}
