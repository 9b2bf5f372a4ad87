// Package sensor reads the analog inputs of the light meter.
//
// Both the light sensor and the dialer are IIO ADC channels exposed by the
// kernel as sysfs attributes holding a decimal integer followed by a newline.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Default sysfs attributes of the board the meter was built for.
const (
	DefaultVoltagePath = "/sys/bus/iio/devices/iio:device0/in_voltage1_raw"
	DefaultDialPath    = "/sys/bus/iio/devices/iio:device0/in_voltage0_raw"

	// DefaultFullScale is the largest raw value of a 12-bit ADC.
	DefaultFullScale = 4095
)

var (
	// ErrIO wraps failures to read an input.
	ErrIO = errors.New("sensor: read failed")

	// ErrParse wraps malformed or out-of-range input values.
	ErrParse = errors.New("sensor: malformed value")
)

// VoltageReader returns a reading normalised to [0,1].
type VoltageReader interface {
	ReadVoltage(ctx context.Context) (float64, error)
}

// DialReader returns the raw dialer position.
type DialReader interface {
	ReadDial(ctx context.Context) (uint64, error)
}

// RawReader returns an unscaled ADC value.
type RawReader interface {
	ReadRaw(ctx context.Context) (uint64, error)
}

// VoltageFunc adapts a function to VoltageReader.
type VoltageFunc func(ctx context.Context) (float64, error)

func (f VoltageFunc) ReadVoltage(ctx context.Context) (float64, error) { return f(ctx) }

// DialFunc adapts a function to DialReader.
type DialFunc func(ctx context.Context) (uint64, error)

func (f DialFunc) ReadDial(ctx context.Context) (uint64, error) { return f(ctx) }

// Voltage scales a raw channel into [0,1] by dividing by FullScale.
type Voltage struct {
	Source    RawReader
	FullScale uint64
}

// ReadVoltage implements VoltageReader.
func (v Voltage) ReadVoltage(ctx context.Context) (float64, error) {
	raw, err := v.Source.ReadRaw(ctx)
	if err != nil {
		return 0, err
	}
	return v.Normalise(raw)
}

// Normalise scales raw into [0,1]. Raw values above FullScale are reported
// as ErrParse rather than clamped.
func (v Voltage) Normalise(raw uint64) (float64, error) {
	fullScale := v.FullScale
	if fullScale == 0 {
		fullScale = DefaultFullScale
	}
	if raw > fullScale {
		return 0, fmt.Errorf("%w: raw value %d exceeds full scale %d", ErrParse, raw, fullScale)
	}
	return float64(raw) / float64(fullScale), nil
}

// parseRaw parses the content of an IIO raw attribute.
func parseRaw(path string, b []byte) (uint64, error) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("%w: %s is empty", ErrParse, path)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	return n, nil
}
