// Package config holds the YAML configuration of the lightmeter daemon.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"lightmeter/internal/dips"
	"lightmeter/internal/history"
	"lightmeter/internal/logging"
	"lightmeter/internal/sampling"
	"lightmeter/internal/sensor"
)

// Config is the top-level YAML configuration.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config. The file is the primary surface; flags only override.
type Config struct {
	Sensor   SensorConfig   `yaml:"sensor"`
	History  HistoryConfig  `yaml:"history"`
	Sampling SamplingConfig `yaml:"sampling"`
	Dial     DialConfig     `yaml:"dial"`
	Console  ConsoleConfig  `yaml:"console"`
	HTTP     HTTPConfig     `yaml:"http"`
	Control  ControlConfig  `yaml:"control"`
	Echo     EchoConfig     `yaml:"echo"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type SensorConfig struct {
	VoltagePath string `yaml:"voltage_path"`
	DialPath    string `yaml:"dial_path"`
	FullScale   uint64 `yaml:"full_scale"`
}

type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

type SamplingConfig struct {
	IntervalMS int     `yaml:"interval_ms"`
	Hysteresis float64 `yaml:"hysteresis"`
	Threshold  float64 `yaml:"threshold"`
}

type DialConfig struct {
	Enabled     bool   `yaml:"enabled"`
	IntervalMS  int    `yaml:"interval_ms"`
	Offset      uint64 `yaml:"offset"`
	MaxCapacity int    `yaml:"max_capacity"` // 0 = history.MaxCapacity
}

type ConsoleConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMS int  `yaml:"interval_ms"`
}

type HTTPConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Listen           string `yaml:"listen"`
	StreamIntervalMS int    `yaml:"stream_interval_ms"`
}

type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

type EchoConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// Default socket and listener addresses.
const (
	DefaultSocketPath = "/tmp/lightmeter.sock"
	DefaultHTTPListen = ":8080"
	DefaultEchoListen = ":1234"
)

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Sensor: SensorConfig{
			VoltagePath: sensor.DefaultVoltagePath,
			DialPath:    sensor.DefaultDialPath,
			FullScale:   sensor.DefaultFullScale,
		},
		History: HistoryConfig{
			Capacity: 500,
		},
		Sampling: SamplingConfig{
			IntervalMS: int(sampling.DefaultSampleInterval / time.Millisecond),
			Hysteresis: dips.DefaultHysteresis,
			Threshold:  dips.DefaultThreshold,
		},
		Dial: DialConfig{
			Enabled:    true,
			IntervalMS: int(sampling.DefaultDialInterval / time.Millisecond),
			Offset:     sampling.DefaultDialOffset,
		},
		Console: ConsoleConfig{
			Enabled:    true,
			IntervalMS: 1000,
		},
		HTTP: HTTPConfig{
			Enabled:          false,
			Listen:           DefaultHTTPListen,
			StreamIntervalMS: 250,
		},
		Control: ControlConfig{
			Enabled:    true,
			SocketPath: DefaultSocketPath,
		},
		Echo: EchoConfig{
			Enabled: false,
			Listen:  DefaultEchoListen,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// LoadFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos), and only whitespace or
// comments may follow the document.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of DefaultConfig.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		// An empty document keeps the defaults.
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	var rest yaml.Node
	if err := dec.Decode(&rest); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries command-line overrides on top of a loaded config.
//
// Each field is a pointer; a nil pointer means the flag was not given, a
// non-nil pointer is applied even when it holds a zero value.
type FlagOverrides struct {
	VoltagePath *string
	DialPath    *string

	Capacity *int

	SampleIntervalMS *int
	Hysteresis       *float64
	Threshold        *float64

	DialEnabled     *bool
	DialIntervalMS  *int
	DialOffset      *uint64
	DialMaxCapacity *int

	ConsoleEnabled *bool

	HTTPEnabled *bool
	HTTPListen  *string

	ControlEnabled *bool
	SocketPath     *string

	EchoEnabled *bool
	EchoListen  *string

	LogLevel  *string
	LogFormat *string
	LogFile   *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.VoltagePath != nil {
		cfg.Sensor.VoltagePath = *o.VoltagePath
	}
	if o.DialPath != nil {
		cfg.Sensor.DialPath = *o.DialPath
	}

	if o.Capacity != nil {
		cfg.History.Capacity = *o.Capacity
	}

	if o.SampleIntervalMS != nil {
		cfg.Sampling.IntervalMS = *o.SampleIntervalMS
	}
	if o.Hysteresis != nil {
		cfg.Sampling.Hysteresis = *o.Hysteresis
	}
	if o.Threshold != nil {
		cfg.Sampling.Threshold = *o.Threshold
	}

	if o.DialEnabled != nil {
		cfg.Dial.Enabled = *o.DialEnabled
	}
	if o.DialIntervalMS != nil {
		cfg.Dial.IntervalMS = *o.DialIntervalMS
	}
	if o.DialOffset != nil {
		cfg.Dial.Offset = *o.DialOffset
	}
	if o.DialMaxCapacity != nil {
		cfg.Dial.MaxCapacity = *o.DialMaxCapacity
	}

	if o.ConsoleEnabled != nil {
		cfg.Console.Enabled = *o.ConsoleEnabled
	}

	if o.HTTPEnabled != nil {
		cfg.HTTP.Enabled = *o.HTTPEnabled
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}

	if o.ControlEnabled != nil {
		cfg.Control.Enabled = *o.ControlEnabled
	}
	if o.SocketPath != nil {
		cfg.Control.SocketPath = *o.SocketPath
	}

	if o.EchoEnabled != nil {
		cfg.Echo.Enabled = *o.EchoEnabled
	}
	if o.EchoListen != nil {
		cfg.Echo.Listen = *o.EchoListen
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
	if o.LogFile != nil {
		cfg.Logging.File = *o.LogFile
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides have been applied.
func (c *Config) Validate() error {
	// Sensor
	if c.Sensor.VoltagePath == "" {
		return errors.New("sensor.voltage_path must not be empty")
	}
	if c.Dial.Enabled && c.Sensor.DialPath == "" {
		return errors.New("dial.enabled is true but sensor.dial_path is empty")
	}
	if c.Sensor.FullScale == 0 {
		return errors.New("sensor.full_scale must be > 0")
	}

	// History
	if c.History.Capacity < 1 || c.History.Capacity > history.MaxCapacity {
		return fmt.Errorf("history.capacity must be in [1, %d]", history.MaxCapacity)
	}

	// Sampling
	if c.Sampling.IntervalMS <= 0 {
		return errors.New("sampling.interval_ms must be > 0")
	}
	if c.Sampling.Threshold <= 0 {
		return errors.New("sampling.threshold must be > 0")
	}

	// Dial
	if c.Dial.Enabled && c.Dial.IntervalMS <= 0 {
		return errors.New("dial.interval_ms must be > 0")
	}
	if c.Dial.MaxCapacity < 0 {
		return errors.New("dial.max_capacity must be >= 0 (0 = no extra bound)")
	}

	// Reporters
	if c.Console.Enabled && c.Console.IntervalMS <= 0 {
		return errors.New("console.interval_ms must be > 0")
	}
	if c.HTTP.Enabled {
		if c.HTTP.Listen == "" {
			return errors.New("http.enabled is true but http.listen is empty")
		}
		if c.HTTP.StreamIntervalMS <= 0 {
			return errors.New("http.stream_interval_ms must be > 0")
		}
	}
	if c.Control.Enabled && c.Control.SocketPath == "" {
		return errors.New("control.enabled is true but control.socket_path is empty")
	}
	if c.Echo.Enabled && c.Echo.Listen == "" {
		return errors.New("echo.enabled is true but echo.listen is empty")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "" && !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("logging.format must be %q or %q", logging.FormatText, logging.FormatJSON)
	}

	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// SampleInterval is the sampling loop cadence.
func (c *Config) SampleInterval() time.Duration { return ms(c.Sampling.IntervalMS) }

// ConsoleInterval is the console reporter cadence.
func (c *Config) ConsoleInterval() time.Duration { return ms(c.Console.IntervalMS) }

// StreamInterval is the websocket sample cadence.
func (c *Config) StreamInterval() time.Duration { return ms(c.HTTP.StreamIntervalMS) }

// Detector converts the sampling section into a dip detector.
func (c *Config) Detector() dips.Detector {
	return dips.Detector{Hysteresis: c.Sampling.Hysteresis, Threshold: c.Sampling.Threshold}
}

// ToSamplerConfig converts the sampling section into the loop's config.
func (c *Config) ToSamplerConfig() sampling.SamplerConfig {
	return sampling.SamplerConfig{
		Interval: c.SampleInterval(),
		Detector: c.Detector(),
	}
}

// ToDialerConfig converts the dial section into the loop's config.
func (c *Config) ToDialerConfig() sampling.DialerConfig {
	return sampling.DialerConfig{
		Interval:    ms(c.Dial.IntervalMS),
		Offset:      c.Dial.Offset,
		MaxCapacity: c.Dial.MaxCapacity,
	}
}

// ToLoggingOptions converts the logging section. The level must already
// have been validated.
func (c *Config) ToLoggingOptions() logging.Options {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Options{
		Level:  level,
		Format: c.Logging.Format,
		File:   ExpandPath(c.Logging.File),
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
