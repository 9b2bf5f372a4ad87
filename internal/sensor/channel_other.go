//go:build !unix

package sensor

import (
	"errors"
	"io"
	"os"
)

func readAt0(f *os.File, buf []byte) (int, error) {
	n, err := f.ReadAt(buf, 0)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}
