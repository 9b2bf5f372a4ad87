package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"lightmeter/internal/sampling"
)

const defaultClientTimeout = 3 * time.Second

// Send sends one request to the daemon and returns its response. A response
// with status "error" is returned as an error.
func Send(ctx context.Context, socketPath string, req Request) (Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultClientTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != StatusOK {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

// Status asks the daemon for its current snapshot.
func Status(ctx context.Context, socketPath string) (sampling.Snapshot, error) {
	resp, err := Send(ctx, socketPath, StatusRequest())
	if err != nil {
		return sampling.Snapshot{}, err
	}
	if resp.Snapshot == nil {
		return sampling.Snapshot{}, errors.New("status response without snapshot")
	}
	return *resp.Snapshot, nil
}

// SetCapacity asks the daemon to resize its history.
func SetCapacity(ctx context.Context, socketPath string, capacity int) error {
	req, err := SetCapacityRequest(capacity)
	if err != nil {
		return err
	}
	_, err = Send(ctx, socketPath, req)
	return err
}
