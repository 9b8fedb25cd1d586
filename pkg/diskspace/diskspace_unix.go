//go:build !windows

package diskspace

import "syscall"

// Available returns the free bytes on the filesystem holding path, as seen by
// an unprivileged process.
func Available(path string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
