package sampling

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"lightmeter/internal/history"
	"lightmeter/internal/sensor"
)

// Dial loop defaults.
const (
	DefaultDialInterval = time.Second

	// DefaultDialOffset is added to every non-zero dial reading before it is
	// published as a capacity. The meter has always done this; whether it is
	// intended (dial 1 -> capacity 2) is unconfirmed, so it stays configurable.
	DefaultDialOffset = 1
)

// DialerConfig tunes a Dialer. A zero Interval selects the default; Offset is
// used as given, so callers wanting the historical behaviour pass
// DefaultDialOffset.
type DialerConfig struct {
	Interval time.Duration
	Offset   uint64

	// MaxCapacity bounds the published capacity. Zero means only
	// history.MaxCapacity applies.
	MaxCapacity int
}

// Dialer is the dial loop: it turns the dialer position into capacity
// requests for the Sampler.
type Dialer struct {
	reader   sensor.DialReader
	requests *CapacityRequest

	interval    time.Duration
	offset      uint64
	maxCapacity int
	logger      *slog.Logger
}

// NewDialer wires a dial loop to the capacity request slot.
func NewDialer(reader sensor.DialReader, requests *CapacityRequest, cfg DialerConfig, logger *slog.Logger) *Dialer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultDialInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		reader:      reader,
		requests:    requests,
		interval:    cfg.Interval,
		offset:      cfg.Offset,
		maxCapacity: cfg.MaxCapacity,
		logger:      logger,
	}
}

// capacityFor maps a non-zero dial reading to a capacity.
func (d *Dialer) capacityFor(raw uint64) int {
	want := raw + d.offset
	if want < raw {
		want = math.MaxUint64
	}
	if d.maxCapacity > 0 && want > uint64(d.maxCapacity) {
		want = uint64(d.maxCapacity)
	}
	if want > history.MaxCapacity {
		want = history.MaxCapacity
	}
	return int(want)
}

// Step reads the dial once and publishes a capacity request when the reading
// is non-zero. A zero reading means "no change" and never clears a pending
// request.
func (d *Dialer) Step(ctx context.Context) error {
	raw, err := d.reader.ReadDial(ctx)
	if err != nil {
		return fmt.Errorf("read dial: %w", err)
	}
	if raw == 0 {
		return nil
	}

	want := d.capacityFor(raw)
	if prev := d.requests.Load(); prev != want {
		d.logger.Debug("capacity requested", "dial", raw, "capacity", want, "previous", prev)
	}
	d.requests.Publish(want)
	return nil
}

// Run polls the dial on every tick until ctx is canceled (returns nil) or the
// read fails (returns the error).
func (d *Dialer) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dial loop started", "interval", d.interval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dial loop stopped")
			return nil

		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			if err := d.Step(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				d.logger.Error("dial loop failed", "error", err)
				return err
			}
		}
	}
}
