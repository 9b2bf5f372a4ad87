package sensor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAttr(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func openTestChannel(t *testing.T, content string) (*Channel, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in_voltage1_raw")
	writeAttr(t, path, content)

	ch, err := OpenChannel(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch, path
}

func TestChannel_ReadRawRereadsFromStart(t *testing.T) {
	ctx := context.Background()
	ch, path := openTestChannel(t, "1234\n")

	v, err := ch.ReadRaw(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), v)

	v, err = ch.ReadRaw(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), v, "second read starts at offset 0 again")

	writeAttr(t, path, "17\n")
	v, err = ch.ReadDial(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), v)
}

func TestChannel_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("MissingFile", func(t *testing.T) {
		_, err := OpenChannel(filepath.Join(t.TempDir(), "nope"))
		require.ErrorIs(t, err, ErrIO)
	})

	t.Run("Malformed", func(t *testing.T) {
		ch, _ := openTestChannel(t, "12ab\n")
		_, err := ch.ReadRaw(ctx)
		require.ErrorIs(t, err, ErrParse)
	})

	t.Run("Empty", func(t *testing.T) {
		ch, _ := openTestChannel(t, "\n")
		_, err := ch.ReadRaw(ctx)
		require.ErrorIs(t, err, ErrParse)
	})

	t.Run("Closed", func(t *testing.T) {
		ch, _ := openTestChannel(t, "5\n")
		require.NoError(t, ch.f.Close())
		_, err := ch.ReadRaw(ctx)
		require.ErrorIs(t, err, ErrIO)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		ch, _ := openTestChannel(t, "5\n")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := ch.ReadRaw(cctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}

type rawFunc func(ctx context.Context) (uint64, error)

func (f rawFunc) ReadRaw(ctx context.Context) (uint64, error) { return f(ctx) }

func constRaw(v uint64) RawReader {
	return rawFunc(func(context.Context) (uint64, error) { return v, nil })
}

func TestVoltage_Normalises(t *testing.T) {
	ctx := context.Background()

	v, err := Voltage{Source: constRaw(4095)}.ReadVoltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = Voltage{Source: constRaw(0), FullScale: 1023}.ReadVoltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = Voltage{Source: constRaw(512), FullScale: 1024}.ReadVoltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	_, err = Voltage{Source: constRaw(5000)}.ReadVoltage(ctx)
	require.ErrorIs(t, err, ErrParse)
}

func TestVoltage_Normalise(t *testing.T) {
	v, err := Voltage{}.Normalise(4095)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v, "zero FullScale selects the default")

	v, err = Voltage{FullScale: 1024}.Normalise(256)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	_, err = Voltage{FullScale: 1023}.Normalise(1024)
	require.ErrorIs(t, err, ErrParse)
}

func TestVoltage_PropagatesSourceErrors(t *testing.T) {
	ch, path := openTestChannel(t, "2048\n")
	v := Voltage{Source: ch}

	got, err := v.ReadVoltage(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 0.001)

	writeAttr(t, path, "garbage\n")
	_, err = v.ReadVoltage(context.Background())
	require.ErrorIs(t, err, ErrParse)
}

func TestFuncAdapters(t *testing.T) {
	var vr VoltageReader = VoltageFunc(func(context.Context) (float64, error) { return 0.25, nil })
	var dr DialReader = DialFunc(func(context.Context) (uint64, error) { return 9, nil })

	v, err := vr.ReadVoltage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	d, err := dr.ReadDial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), d)
}
