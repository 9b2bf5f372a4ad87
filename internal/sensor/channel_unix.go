//go:build unix

package sensor

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// readAt0 reads from offset 0 with pread(2), retrying on EINTR.
func readAt0(f *os.File, buf []byte) (int, error) {
	fd := int(f.Fd())
	for {
		n, err := unix.Pread(fd, buf, 0)
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		return n, err
	}
}
