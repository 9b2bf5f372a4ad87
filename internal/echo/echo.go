// Package echo is a tiny UDP echo responder that runs next to the meter. It
// shares no state with the sampling pipeline.
package echo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// MaxDatagram is the largest datagram read; longer payloads are truncated.
const MaxDatagram = 128

// Responder echoes every datagram back to its sender. An empty message
// (after trimming NUL and newline characters) is answered with the last
// non-empty one.
type Responder struct {
	addr   string
	logger *slog.Logger
	last   string
}

// NewResponder creates a responder for the UDP address addr.
func NewResponder(addr string, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{addr: addr, logger: logger}
}

// Reply computes the answer for one inbound payload. ok is false when there
// is nothing to send yet.
func (r *Responder) Reply(payload []byte) (reply string, ok bool) {
	msg := strings.Trim(strings.Trim(string(payload), "\x00"), "\n")
	if msg != "" {
		r.last = msg
	}
	if r.last == "" {
		return "", false
	}
	return r.last, true
}

// Run binds the configured address and serves until ctx is canceled.
func (r *Responder) Run(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", r.addr)
	if err != nil {
		return fmt.Errorf("echo listen: %w", err)
	}
	return r.Serve(ctx, pc)
}

// Serve answers datagrams on pc until ctx is canceled. It closes pc.
func (r *Responder) Serve(ctx context.Context, pc net.PacketConn) error {
	defer pc.Close()

	stop := context.AfterFunc(ctx, func() { _ = pc.Close() })
	defer stop()

	r.logger.Info("echo responder listening", "addr", pc.LocalAddr().String())

	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("echo receive: %w", err)
		}

		reply, ok := r.Reply(buf[:n])
		if !ok {
			continue
		}
		if _, err := pc.WriteTo([]byte(reply), from); err != nil {
			r.logger.Warn("echo send failed", "to", from.String(), "error", err)
		}
	}
}
