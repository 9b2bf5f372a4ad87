package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightmeter/internal/dips"
	"lightmeter/internal/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lightmeter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 500, cfg.History.Capacity)
	assert.Equal(t, time.Millisecond, cfg.SampleInterval())
	assert.Equal(t, dips.Default(), cfg.Detector())
	assert.Equal(t, time.Second, cfg.ToDialerConfig().Interval)
	assert.Equal(t, uint64(1), cfg.ToDialerConfig().Offset)
	assert.Equal(t, time.Second, cfg.ConsoleInterval())
	assert.Equal(t, 250*time.Millisecond, cfg.StreamInterval())
	assert.Equal(t, uint64(4095), cfg.Sensor.FullScale)
}

func TestLoadFile_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
history:
  capacity: 64
sampling:
  threshold: 0.2
dial:
  max_capacity: 2000
http:
  enabled: true
  listen: "127.0.0.1:9000"
logging:
  level: debug
  format: json
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 64, cfg.History.Capacity)
	assert.Equal(t, 0.2, cfg.Sampling.Threshold)
	assert.Equal(t, dips.DefaultHysteresis, cfg.Sampling.Hysteresis, "unset keys keep defaults")
	assert.Equal(t, 2000, cfg.ToDialerConfig().MaxCapacity)
	assert.True(t, cfg.HTTP.Enabled)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Listen)
	assert.True(t, cfg.Dial.Enabled)

	opts := cfg.ToLoggingOptions()
	assert.Equal(t, logging.LevelDebug, opts.Level)
	assert.Equal(t, logging.FormatJSON, opts.Format)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile("")
	require.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")

	_, err = LoadFile(writeConfig(t, "history:\n  capacty: 3\n"))
	require.Error(t, err, "unknown keys are rejected")

	_, err = LoadFile(writeConfig(t, "history:\n  capacity: 3\n---\nhistory:\n  capacity: 4\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing document")
}

func TestParse_TrailingDocumentRejected(t *testing.T) {
	for name, doc := range map[string]string{
		"SecondConfig":   "history:\n  capacity: 3\n---\nhistory:\n  capacity: 4\n",
		"UnknownKeys":    "history:\n  capacity: 3\n---\nfoo: bar\n",
		"ScalarDocument": "history:\n  capacity: 3\n---\n42\n",
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "trailing document")
			assert.Equal(t, Config{}, cfg)
		})
	}

	cfg, err := Parse([]byte("history:\n  capacity: 3\n# trailing comment\n"))
	require.NoError(t, err, "comments after the document are fine")
	assert.Equal(t, 3, cfg.History.Capacity)
}

func TestParse_EmptyKeepsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()

	capacity := 10
	dialEnabled := false
	offset := uint64(0)
	level := "warn"
	FlagOverrides{
		Capacity:    &capacity,
		DialEnabled: &dialEnabled,
		DialOffset:  &offset,
		LogLevel:    &level,
	}.Apply(&cfg)

	assert.Equal(t, 10, cfg.History.Capacity)
	assert.False(t, cfg.Dial.Enabled)
	assert.Equal(t, uint64(0), cfg.Dial.Offset, "zero values are applied when set")
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, DefaultSocketPath, cfg.Control.SocketPath, "nil overrides are ignored")

	FlagOverrides{}.Apply(nil)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ZeroCapacity", func(c *Config) { c.History.Capacity = 0 }, "history.capacity"},
		{"NoVoltagePath", func(c *Config) { c.Sensor.VoltagePath = "" }, "sensor.voltage_path"},
		{"NoDialPath", func(c *Config) { c.Sensor.DialPath = "" }, "sensor.dial_path"},
		{"ZeroFullScale", func(c *Config) { c.Sensor.FullScale = 0 }, "sensor.full_scale"},
		{"ZeroInterval", func(c *Config) { c.Sampling.IntervalMS = 0 }, "sampling.interval_ms"},
		{"ZeroThreshold", func(c *Config) { c.Sampling.Threshold = 0 }, "sampling.threshold"},
		{"NegativeMax", func(c *Config) { c.Dial.MaxCapacity = -1 }, "dial.max_capacity"},
		{"NoSocket", func(c *Config) { c.Control.SocketPath = "" }, "control.socket_path"},
		{"HTTPNoListen", func(c *Config) { c.HTTP.Enabled, c.HTTP.Listen = true, "" }, "http.listen"},
		{"EchoNoListen", func(c *Config) { c.Echo.Enabled, c.Echo.Listen = true, "" }, "echo.listen"},
		{"BadLevel", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"BadFormat", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	t.Run("DisabledDialNeedsNoPath", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Dial.Enabled = false
		cfg.Sensor.DialPath = ""
		require.NoError(t, cfg.Validate())
	})
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, "/etc/lightmeter.yaml", ExpandPath("/etc/lightmeter.yaml"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "lm.yaml"), ExpandPath("~/lm.yaml"))
	assert.Equal(t, "~other/x", ExpandPath("~other/x"))
}
