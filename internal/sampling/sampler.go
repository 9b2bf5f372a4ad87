package sampling

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"lightmeter/internal/dips"
	"lightmeter/internal/history"
	"lightmeter/internal/sensor"
)

// DefaultSampleInterval is the light sensor polling cadence.
const DefaultSampleInterval = time.Millisecond

// Snapshot is a consistent view of the pipeline for reporters.
type Snapshot struct {
	Voltage    float64   `json:"voltage"`
	HasVoltage bool      `json:"has_voltage"`
	Dips       int       `json:"dips"`
	Capacity   int       `json:"capacity"`
	Count      int       `json:"count"`
	At         time.Time `json:"at"`
}

// SamplerConfig tunes a Sampler. Zero values select defaults.
type SamplerConfig struct {
	Interval time.Duration
	Detector dips.Detector

	// OnResize, if set, is called after a capacity request has been applied,
	// outside the history lock.
	OnResize func(from, to int)
}

// Sampler is the sampling loop: it reads the light sensor, pushes the sample
// into the history, applies pending capacity requests and refreshes the dip
// count. It is the only writer of the history.
type Sampler struct {
	history  *history.Guarded[float64]
	requests *CapacityRequest
	dipCount *DipCounter
	source   sensor.VoltageReader

	detector dips.Detector
	interval time.Duration
	onResize func(from, to int)
	logger   *slog.Logger

	lastAt atomic.Int64 // unix nanos of the last pushed sample
}

// NewSampler wires a sampling loop to its shared handles.
func NewSampler(
	h *history.Guarded[float64],
	requests *CapacityRequest,
	dipCount *DipCounter,
	source sensor.VoltageReader,
	cfg SamplerConfig,
	logger *slog.Logger,
) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if cfg.Detector == (dips.Detector{}) {
		cfg.Detector = dips.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		history:  h,
		requests: requests,
		dipCount: dipCount,
		source:   source,
		detector: cfg.Detector,
		interval: cfg.Interval,
		onResize: cfg.OnResize,
		logger:   logger,
	}
}

// Step runs one sampling iteration without waiting.
//
// A sensor failure is returned wrapped and leaves the history untouched.
func (s *Sampler) Step(ctx context.Context) error {
	v, err := s.source.ReadVoltage(ctx)
	if err != nil {
		return fmt.Errorf("read voltage: %w", err)
	}

	var (
		resized   bool
		from, to  int
		resizeErr error
	)

	// Push, resize and derive under one lock so readers never see a window
	// that disagrees with the published dip count.
	s.history.Do(func(r *history.Ring[float64]) {
		r.Push(v)

		if want := s.requests.Load(); want != 0 && want != r.Cap() {
			from = r.Cap()
			if resizeErr = r.Resize(want); resizeErr == nil {
				resized, to = true, want
			}
		}

		if !r.IsEmpty() {
			window, err := r.Latest(r.Len())
			if err == nil {
				s.dipCount.Store(s.detector.Count(window))
			}
		}
	})
	s.lastAt.Store(time.Now().UnixNano())

	if resizeErr != nil {
		return fmt.Errorf("resize history: %w", resizeErr)
	}
	if resized {
		s.logger.Debug("history resized", "from", from, "to", to)
		if s.onResize != nil {
			s.onResize(from, to)
		}
	}
	return nil
}

// Run samples on every tick until ctx is canceled (returns nil) or the
// sensor fails (returns the error; the loop is over).
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sampling loop started", "interval", s.interval, "capacity", s.history.Cap())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sampling loop stopped")
			return nil

		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			if err := s.Step(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.logger.Error("sampling loop failed", "error", err)
				return err
			}
		}
	}
}

// Snapshot returns the latest sample, dip count and history occupancy.
func (s *Sampler) Snapshot() Snapshot {
	var snap Snapshot
	s.history.Do(func(r *history.Ring[float64]) {
		snap.Capacity = r.Cap()
		snap.Count = r.Len()
		if latest, err := r.Latest(1); err == nil && len(latest) == 1 {
			snap.Voltage = latest[0]
			snap.HasVoltage = true
		}
	})
	snap.Dips = s.dipCount.Load()
	if ns := s.lastAt.Load(); ns != 0 {
		snap.At = time.Unix(0, ns).UTC()
	}
	return snap
}
