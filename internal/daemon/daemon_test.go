package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightmeter/internal/control"
	"lightmeter/internal/history"
	"lightmeter/internal/sampling"
	"lightmeter/internal/sensor"
)

var discard = slog.New(slog.DiscardHandler)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func constantVoltage(v float64) sensor.VoltageFunc {
	return func(context.Context) (float64, error) { return v, nil }
}

func runDaemon(t *testing.T, d *Daemon) (cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- d.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, ch
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
		return nil
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Capacity: 10})
	require.Error(t, err)

	_, err = New(Options{Capacity: 0, Voltage: constantVoltage(0.5)})
	require.ErrorIs(t, err, history.ErrInvalidCapacity)
}

func TestRun_DialResizesHistory(t *testing.T) {
	d, err := New(Options{
		Capacity: 500,
		Voltage:  constantVoltage(0.5),
		Sampler:  sampling.SamplerConfig{Interval: time.Millisecond},
		Dial:     sensor.DialFunc(func(context.Context) (uint64, error) { return 9, nil }),
		Dialer:   sampling.DialerConfig{Interval: 5 * time.Millisecond, Offset: sampling.DefaultDialOffset},
		Logger:   discard,
	})
	require.NoError(t, err)

	cancel, done := runDaemon(t, d)

	require.Eventually(t, func() bool {
		snap := d.Sampler().Snapshot()
		return snap.Capacity == 10 && snap.Count == 10
	}, 2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestRun_SamplerFailureIsFatal(t *testing.T) {
	var reads atomic.Int32
	var out lockedBuffer
	d, err := New(Options{
		Capacity: 8,
		Voltage: sensor.VoltageFunc(func(context.Context) (float64, error) {
			if reads.Add(1) > 5 {
				return 0, fmt.Errorf("%w: device vanished", sensor.ErrIO)
			}
			return 0.5, nil
		}),
		Sampler:         sampling.SamplerConfig{Interval: time.Millisecond},
		Console:         &out,
		ConsoleInterval: time.Millisecond,
		EchoListen:      "127.0.0.1:0",
		Logger:          discard,
	})
	require.NoError(t, err)

	_, done := runDaemon(t, d)

	err = wait(t, done)
	require.ErrorIs(t, err, sensor.ErrIO)
	assert.Contains(t, err.Error(), "sampling loop")
	assert.Equal(t, 5, d.Sampler().Snapshot().Count)
}

func TestRun_DialFailureKeepsSampling(t *testing.T) {
	d, err := New(Options{
		Capacity: 1000,
		Voltage:  constantVoltage(0.5),
		Sampler:  sampling.SamplerConfig{Interval: time.Millisecond},
		Dial: sensor.DialFunc(func(context.Context) (uint64, error) {
			return 0, fmt.Errorf("%w: bad dial", sensor.ErrParse)
		}),
		Dialer: sampling.DialerConfig{Interval: time.Millisecond},
		Logger: discard,
	})
	require.NoError(t, err)

	cancel, done := runDaemon(t, d)

	// The dial loop dies on its first tick; sampling must go on well after.
	require.Eventually(t, func() bool { return d.Sampler().Snapshot().Count >= 50 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1000, d.Sampler().Snapshot().Capacity)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestRun_ConsoleReports(t *testing.T) {
	var out lockedBuffer
	d, err := New(Options{
		Capacity:        4,
		Voltage:         constantVoltage(0.25),
		Sampler:         sampling.SamplerConfig{Interval: time.Millisecond},
		Console:         &out,
		ConsoleInterval: 5 * time.Millisecond,
		Logger:          discard,
	})
	require.NoError(t, err)

	cancel, done := runDaemon(t, d)
	require.Eventually(t, func() bool {
		s := out.String()
		return bytes.Contains([]byte(s), []byte("0.2500")) && bytes.Contains([]byte(s), []byte("Dips:"))
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestRun_HTTPAndControl(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	dir, err := os.MkdirTemp("", "lm")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "ctl.sock")

	d, err := New(Options{
		Capacity:       500,
		Voltage:        constantVoltage(0.75),
		Sampler:        sampling.SamplerConfig{Interval: time.Millisecond},
		HTTPListener:   ln,
		StreamInterval: 10 * time.Millisecond,
		ControlSocket:  sock,
		Logger:         discard,
	})
	require.NoError(t, err)

	cancel, done := runDaemon(t, d)

	// Control socket: request a smaller history.
	require.Eventually(t, func() bool {
		return control.SetCapacity(context.Background(), sock, 10) == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, err := control.Status(context.Background(), sock)
		return err == nil && snap.Capacity == 10 && snap.Count == 10
	}, 2*time.Second, 5*time.Millisecond)

	// HTTP: status and metrics reflect the resize.
	resp, err := http.Get("http://" + ln.Addr().String() + "/status")
	require.NoError(t, err)
	var snap sampling.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, 10, snap.Capacity)
	assert.True(t, snap.HasVoltage)
	assert.Equal(t, 0.75, snap.Voltage)

	resp, err = http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, body.String(), "lightmeter_resizes_total 1")
	assert.Contains(t, body.String(), "lightmeter_history_capacity 10")

	cancel()
	require.NoError(t, wait(t, done))

	_, err = os.Stat(sock)
	assert.True(t, os.IsNotExist(err))
}
