package control

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightmeter/internal/sampling"
)

type staticSource sampling.Snapshot

func (s staticSource) Snapshot() sampling.Snapshot { return sampling.Snapshot(s) }

func socketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are length limited; keep them short.
	dir, err := os.MkdirTemp("", "lm")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func startServer(t *testing.T, srv *Server) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", srv.socketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 5*time.Millisecond)

	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("control server did not stop")
		}
	}
}

func TestHandle(t *testing.T) {
	var req sampling.CapacityRequest
	srv := NewServer("", &req, staticSource{Voltage: 0.4, HasVoltage: true, Capacity: 500}, slog.New(slog.DiscardHandler))

	resp := srv.Handle([]byte(`{"type":"status"}`))
	require.Equal(t, StatusOK, resp.Status)
	require.NotNil(t, resp.Snapshot)
	assert.Equal(t, 0.4, resp.Snapshot.Voltage)

	resp = srv.Handle([]byte(`{"type":"set_capacity","data":{"capacity":10}}`))
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, 10, req.Load())

	for _, line := range []string{
		`not json`,
		`{"type":"set_capacity"}`,
		`{"type":"set_capacity","data":{"capacity":0}}`,
		`{"type":"set_capacity","data":{"capacity":"ten"}}`,
		`{"type":"reboot"}`,
	} {
		resp := srv.Handle([]byte(line))
		assert.Equal(t, StatusError, resp.Status, line)
		assert.NotEmpty(t, resp.Error, line)
	}
	assert.Equal(t, 10, req.Load(), "rejected requests leave the pending capacity alone")
}

func TestServer_ClientRoundTrip(t *testing.T) {
	path := socketPath(t)
	var req sampling.CapacityRequest
	srv := NewServer(path, &req, staticSource{Voltage: 0.25, HasVoltage: true, Dips: 2, Capacity: 500, Count: 500}, slog.New(slog.DiscardHandler))
	stop := startServer(t, srv)

	ctx := context.Background()

	snap, err := Status(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0.25, snap.Voltage)
	assert.Equal(t, 2, snap.Dips)
	assert.Equal(t, 500, snap.Capacity)

	require.NoError(t, SetCapacity(ctx, path, 64))
	assert.Equal(t, 64, req.Load())

	err = SetCapacity(ctx, path, -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity must be in [1, ")

	stop()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket removed on shutdown")
}

func TestServer_MultipleRequestsPerConnection(t *testing.T) {
	path := socketPath(t)
	var req sampling.CapacityRequest
	srv := NewServer(path, &req, staticSource{}, slog.New(slog.DiscardHandler))
	stop := startServer(t, srv)
	defer stop()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{\"type\":\"set_capacity\",\"data\":{\"capacity\":7}}\n{\"type\":\"status\"}\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Contains(t, line, `"status":"ok"`)
	}
	assert.Equal(t, 7, req.Load())
}

func TestServer_ShutdownClosesIdleConnections(t *testing.T) {
	path := socketPath(t)
	srv := NewServer(path, &sampling.CapacityRequest{}, staticSource{}, slog.New(slog.DiscardHandler))
	stop := startServer(t, srv)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	// Run only returns once the idle connection has been closed.
	stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestSend_NoDaemon(t *testing.T) {
	_, err := Status(context.Background(), filepath.Join(t.TempDir(), "missing.sock"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to")
}
