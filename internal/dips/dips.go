// Package dips counts transient drops in a window of normalised voltage
// samples.
package dips

// Defaults for readings normalised to [0,1].
const (
	DefaultHysteresis = 0.03
	DefaultThreshold  = 0.1
)

// Detector counts dips between time-adjacent samples.
//
// For every adjacent pair (prev, next), prev being the older sample, the pair
// is a dip when prev - next + Hysteresis >= Threshold.
type Detector struct {
	Hysteresis float64
	Threshold  float64
}

// Default returns a Detector using DefaultHysteresis and DefaultThreshold.
func Default() Detector {
	return Detector{Hysteresis: DefaultHysteresis, Threshold: DefaultThreshold}
}

// Count returns the number of dips in window (oldest first).
//
// The result is a snapshot recomputed from scratch on every call. Windows with
// fewer than two samples contain no pairs and yield 0.
func (d Detector) Count(window []float64) int {
	n := 0
	for i := len(window) - 1; i > 0; i-- {
		drop := window[i-1] - window[i] + d.Hysteresis
		if drop >= d.Threshold {
			n++
		}
	}
	return n
}
