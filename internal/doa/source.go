// Package doa provides Direction of Arrival tracking on top of the beamformer
package doa

import (
	"context"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Frame is one multichannel capture from the array
type Frame struct {
	Signals   *mat.Dense // (samples x channels)
	Timestamp time.Time  // When the capture completed
}

// Source provides signal frames from the array front end
type Source interface {
	// Capture returns the next frame
	Capture(ctx context.Context) (Frame, error)

	// Close releases resources
	Close() error

	// Healthy returns true if the source is operational
	Healthy() bool

	// Name returns the source type name
	Name() string
}

// Clamp clamps a value to [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
