//go:build linux

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential is a best-effort readahead hint for a single front-to-back
// pass.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_WILLNEED)
}
