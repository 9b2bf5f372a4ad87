package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"lightmeter/internal/config"
	"lightmeter/internal/daemon"
	"lightmeter/internal/logging"
	"lightmeter/internal/sensor"
)

type runFlags struct {
	configPath string

	voltagePath string
	dialPath    string
	capacity    int

	sampleIntervalMS int
	hysteresis       float64
	threshold        float64

	noDial          bool
	dialIntervalMS  int
	dialOffset      uint64
	dialMaxCapacity int

	noConsole bool

	httpListen string
	socketPath string
	noControl  bool
	echoListen string
	logFormat  string
	logFile    string
}

func newRunCmd(use string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: "Run the sampling daemon",
		Long: `Start the sampling loop, the dial loop and the configured reporters.

Configuration comes from the YAML file given with --config, then from flags.
Only flags that are set explicitly override the file.

Example:
  lightmeter run --config /etc/lightmeter.yaml --http :8080
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			return runDaemon(cmd, cfg)
		},
	}

	f.bind(cmd)
	return cmd
}

// bind registers the run flags on cmd.
func (f *runFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "Path to YAML config file")
	fs.StringVar(&f.voltagePath, "voltage-path", sensor.DefaultVoltagePath, "sysfs attribute of the light sensor")
	fs.StringVar(&f.dialPath, "dial-path", sensor.DefaultDialPath, "sysfs attribute of the dial")
	fs.IntVar(&f.capacity, "capacity", 500, "Initial history capacity")
	fs.IntVar(&f.sampleIntervalMS, "sample-interval-ms", 1, "Sampling interval in milliseconds")
	fs.Float64Var(&f.hysteresis, "hysteresis", 0.03, "Dip detector hysteresis")
	fs.Float64Var(&f.threshold, "threshold", 0.1, "Dip detector threshold")
	fs.BoolVar(&f.noDial, "no-dial", false, "Disable the dial loop")
	fs.IntVar(&f.dialIntervalMS, "dial-interval-ms", 1000, "Dial polling interval in milliseconds")
	fs.Uint64Var(&f.dialOffset, "dial-offset", 1, "Added to every non-zero dial reading")
	fs.IntVar(&f.dialMaxCapacity, "dial-max-capacity", 0, "Upper bound for dial capacity requests (0 = no extra bound)")
	fs.BoolVar(&f.noConsole, "no-console", false, "Disable the console report line")
	fs.StringVar(&f.httpListen, "http", "", "Enable the HTTP server on this address (e.g. :8080)")
	fs.StringVar(&f.socketPath, "socket", config.DefaultSocketPath, "Control socket path")
	fs.BoolVar(&f.noControl, "no-control", false, "Disable the control socket")
	fs.StringVar(&f.echoListen, "echo", "", "Enable the UDP echo responder on this address (e.g. :1234)")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: text or json (overrides config)")
	fs.StringVar(&f.logFile, "log-file", "", "Also write logs to this file")
}

// overrides maps explicitly set flags onto config.FlagOverrides.
func (f *runFlags) overrides(cmd *cobra.Command) config.FlagOverrides {
	changed := cmd.Flags().Changed
	var o config.FlagOverrides

	if changed("voltage-path") {
		o.VoltagePath = &f.voltagePath
	}
	if changed("dial-path") {
		o.DialPath = &f.dialPath
	}
	if changed("capacity") {
		o.Capacity = &f.capacity
	}
	if changed("sample-interval-ms") {
		o.SampleIntervalMS = &f.sampleIntervalMS
	}
	if changed("hysteresis") {
		o.Hysteresis = &f.hysteresis
	}
	if changed("threshold") {
		o.Threshold = &f.threshold
	}
	if changed("no-dial") {
		enabled := !f.noDial
		o.DialEnabled = &enabled
	}
	if changed("dial-interval-ms") {
		o.DialIntervalMS = &f.dialIntervalMS
	}
	if changed("dial-offset") {
		o.DialOffset = &f.dialOffset
	}
	if changed("dial-max-capacity") {
		o.DialMaxCapacity = &f.dialMaxCapacity
	}
	if changed("no-console") {
		enabled := !f.noConsole
		o.ConsoleEnabled = &enabled
	}
	if changed("http") {
		enabled := f.httpListen != ""
		o.HTTPEnabled = &enabled
		o.HTTPListen = &f.httpListen
	}
	if changed("socket") {
		o.SocketPath = &f.socketPath
	}
	if changed("no-control") {
		enabled := !f.noControl
		o.ControlEnabled = &enabled
	}
	if changed("echo") {
		enabled := f.echoListen != ""
		o.EchoEnabled = &enabled
		o.EchoListen = &f.echoListen
	}
	if changed("log-format") {
		o.LogFormat = &f.logFormat
	}
	if changed("log-file") {
		o.LogFile = &f.logFile
	}
	if cmd.Flags().Changed("log-level") {
		if level, err := cmd.Flags().GetString("log-level"); err == nil {
			o.LogLevel = &level
		}
	}
	return o
}

// loadConfig layers defaults, the config file and flag overrides, then
// validates the result.
func loadConfig(cmd *cobra.Command, f *runFlags) (config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(f.configPath); err != nil {
			return config.Config{}, err
		}
	}

	f.overrides(cmd).Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.Config) (*slog.Logger, io.Closer, error) {
	return logging.New(cfg.ToLoggingOptions())
}

func runDaemon(cmd *cobra.Command, cfg config.Config) error {
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	voltageCh, err := sensor.OpenChannel(cfg.Sensor.VoltagePath)
	if err != nil {
		logger.Error("failed to open light sensor", "path", cfg.Sensor.VoltagePath, "error", err,
			"tip", "check that the IIO driver is loaded and the user can read sysfs")
		return err
	}
	defer voltageCh.Close()

	opts := daemon.Options{
		Capacity: cfg.History.Capacity,
		Voltage:  sensor.Voltage{Source: voltageCh, FullScale: cfg.Sensor.FullScale},
		Sampler:  cfg.ToSamplerConfig(),
		Logger:   logger,
	}

	if cfg.Dial.Enabled {
		dialCh, err := sensor.OpenChannel(cfg.Sensor.DialPath)
		if err != nil {
			logger.Error("failed to open dial", "path", cfg.Sensor.DialPath, "error", err)
			return err
		}
		defer dialCh.Close()
		opts.Dial = dialCh
		opts.Dialer = cfg.ToDialerConfig()
	}
	if cfg.Console.Enabled {
		opts.Console = os.Stdout
		opts.ConsoleInterval = cfg.ConsoleInterval()
	}
	if cfg.HTTP.Enabled {
		opts.HTTPListen = cfg.HTTP.Listen
		opts.StreamInterval = cfg.StreamInterval()
	}
	if cfg.Control.Enabled {
		opts.ControlSocket = config.ExpandPath(cfg.Control.SocketPath)
	}
	if cfg.Echo.Enabled {
		opts.EchoListen = cfg.Echo.Listen
	}

	d, err := daemon.New(opts)
	if err != nil {
		return err
	}

	logger.Debug("configuration",
		"voltage_path", cfg.Sensor.VoltagePath,
		"dial_path", cfg.Sensor.DialPath,
		"capacity", cfg.History.Capacity,
		"sample_interval", cfg.SampleInterval(),
		"hysteresis", cfg.Sampling.Hysteresis,
		"threshold", cfg.Sampling.Threshold,
		"dial_enabled", cfg.Dial.Enabled,
		"dial_offset", cfg.Dial.Offset,
		"dial_max_capacity", cfg.Dial.MaxCapacity)
	logger.Info("starting lightmeter", "version", version)

	return d.Run(cmd.Context())
}
