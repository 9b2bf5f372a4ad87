// Package daemon wires the sampling loops and the optional reporters into one
// supervised process.
//
// Failure policy:
//   - the sampling loop failing is fatal: every other component is canceled
//     and Run returns the error;
//   - the dial loop failing only stops live resizing, everything else keeps
//     running;
//   - reporters (console, HTTP, control socket, echo) log their errors and
//     stop without affecting sampling.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"lightmeter/internal/control"
	"lightmeter/internal/echo"
	"lightmeter/internal/history"
	"lightmeter/internal/report"
	"lightmeter/internal/sampling"
	"lightmeter/internal/sensor"
)

// Options describes one daemon instance. Zero values disable the optional
// components.
type Options struct {
	// Capacity is the initial history capacity.
	Capacity int

	Voltage sensor.VoltageReader
	Sampler sampling.SamplerConfig

	// Dial, when set, enables the dial loop.
	Dial   sensor.DialReader
	Dialer sampling.DialerConfig

	// Console, when set, receives the periodic report line.
	Console         io.Writer
	ConsoleInterval time.Duration

	// HTTPListen enables the HTTP server. HTTPListener takes precedence and
	// is used as is.
	HTTPListen     string
	HTTPListener   net.Listener
	StreamInterval time.Duration

	// ControlSocket enables the Unix-socket control channel.
	ControlSocket string

	// EchoListen enables the UDP echo responder.
	EchoListen string

	Logger *slog.Logger
}

// Daemon owns the shared handles of one pipeline.
type Daemon struct {
	opts   Options
	logger *slog.Logger

	history  *history.Guarded[float64]
	requests *sampling.CapacityRequest
	dips     *sampling.DipCounter

	sampler *sampling.Sampler
	dialer  *sampling.Dialer
	metrics *report.Metrics
}

// New validates opts and builds the pipeline without starting it.
func New(opts Options) (*Daemon, error) {
	if opts.Voltage == nil {
		return nil, errors.New("daemon: voltage reader is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h, err := history.NewGuarded[float64](opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("create history: %w", err)
	}

	d := &Daemon{
		opts:     opts,
		logger:   logger,
		history:  h,
		requests: &sampling.CapacityRequest{},
		dips:     &sampling.DipCounter{},
	}

	samplerCfg := opts.Sampler
	if d.httpEnabled() {
		// The source is the sampler itself; GaugeFuncs only run at scrape time.
		d.metrics = report.NewMetrics(report.SnapshotFunc(func() sampling.Snapshot { return d.sampler.Snapshot() }))
		samplerCfg.OnResize = chainResize(samplerCfg.OnResize, d.metrics.ObserveResize)
	}

	d.sampler = sampling.NewSampler(h, d.requests, d.dips, opts.Voltage, samplerCfg, logger.With("component", "sampler"))
	if opts.Dial != nil {
		d.dialer = sampling.NewDialer(opts.Dial, d.requests, opts.Dialer, logger.With("component", "dialer"))
	}
	return d, nil
}

func chainResize(hooks ...func(from, to int)) func(from, to int) {
	return func(from, to int) {
		for _, hook := range hooks {
			if hook != nil {
				hook(from, to)
			}
		}
	}
}

func (d *Daemon) httpEnabled() bool {
	return d.opts.HTTPListener != nil || d.opts.HTTPListen != ""
}

// Sampler returns the sampling loop; its Snapshot is the read model of the
// pipeline.
func (d *Daemon) Sampler() *sampling.Sampler { return d.sampler }

// Requests returns the capacity request slot.
func (d *Daemon) Requests() *sampling.CapacityRequest { return d.requests }

// Run starts every configured component and blocks until ctx is canceled or
// the sampling loop fails. It waits for all goroutines before returning.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	d.logger.Info("daemon starting",
		"capacity", d.opts.Capacity,
		"dial", d.dialer != nil,
		"console", d.opts.Console != nil,
		"http", d.httpEnabled(),
		"control", d.opts.ControlSocket != "",
		"echo", d.opts.EchoListen != "")

	g.Go(func() error {
		if err := d.sampler.Run(gctx); err != nil {
			return fmt.Errorf("sampling loop: %w", err)
		}
		return nil
	})

	if d.dialer != nil {
		d.goOptional(g, gctx, "dial loop", d.dialer.Run)
	}

	if d.opts.Console != nil {
		console := report.NewConsole(d.opts.Console, d.sampler, d.opts.ConsoleInterval, d.logger)
		d.goOptional(g, gctx, "console", console.Run)
	}

	if d.httpEnabled() {
		stream := report.NewStream(d.logger.With("component", "stream"), d.sampler, report.StreamConfig{
			Hub:      report.HubConfig{Metrics: d.metrics},
			Interval: d.opts.StreamInterval,
		})
		srv := report.NewServer(d.opts.HTTPListen, d.sampler, stream, d.metrics, d.logger.With("component", "http"))

		d.goOptional(g, gctx, "stream", stream.Run)
		if d.opts.HTTPListener != nil {
			d.goOptional(g, gctx, "http server", func(ctx context.Context) error {
				return srv.Serve(ctx, d.opts.HTTPListener)
			})
		} else {
			d.goOptional(g, gctx, "http server", srv.Run)
		}
	}

	if d.opts.ControlSocket != "" {
		ctl := control.NewServer(d.opts.ControlSocket, d.requests, d.sampler, d.logger.With("component", "control"))
		d.goOptional(g, gctx, "control socket", ctl.Run)
	}

	if d.opts.EchoListen != "" {
		responder := echo.NewResponder(d.opts.EchoListen, d.logger.With("component", "echo"))
		d.goOptional(g, gctx, "echo responder", responder.Run)
	}

	err := g.Wait()
	if err != nil {
		d.logger.Error("daemon stopped", "error", err)
		return err
	}
	d.logger.Info("daemon stopped")
	return nil
}

// goOptional runs a non-fatal component: its error is logged and swallowed
// so the group keeps running.
func (d *Daemon) goOptional(g *errgroup.Group, ctx context.Context, name string, run func(context.Context) error) {
	g.Go(func() error {
		if err := run(ctx); err != nil {
			d.logger.Error(name+" stopped", "error", err)
		}
		return nil
	})
}
