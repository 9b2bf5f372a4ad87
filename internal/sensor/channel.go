package sensor

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// rawBufSize fits any decimal uint64 plus a newline.
const rawBufSize = 32

// Channel is an open sysfs attribute.
//
// The file is opened once and re-read from offset 0 on every read, which is
// how sysfs attributes are refreshed. A Channel is safe for concurrent use.
type Channel struct {
	path string

	mu  sync.Mutex
	f   *os.File
	buf []byte
}

// OpenChannel opens the attribute at path.
func OpenChannel(path string) (*Channel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	return &Channel{
		path: path,
		f:    f,
		buf:  make([]byte, rawBufSize),
	}, nil
}

// Path returns the attribute path.
func (c *Channel) Path() string { return c.path }

// ReadRaw implements RawReader.
func (c *Channel) ReadRaw(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := readAt0(c.f, c.buf)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrIO, c.path, err)
	}
	return parseRaw(c.path, c.buf[:n])
}

// ReadDial implements DialReader.
func (c *Channel) ReadDial(ctx context.Context) (uint64, error) {
	return c.ReadRaw(ctx)
}

// Close releases the underlying file.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.f.Close()
}
