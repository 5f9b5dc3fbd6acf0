// Package dsp provides the sample-level primitives used by the beamformer
package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Processor shifts channels with zero fill and reduces signals to RMS.
// It holds no state and is safe for concurrent use.
type Processor struct{}

// NewProcessor returns the default processor
func NewProcessor() Processor {
	return Processor{}
}

// Delay shifts channel by samples in place. Positive values move samples
// later and zero the exposed start; negative values move them earlier and
// zero the exposed end. Shifts of at least len(channel) zero the channel.
func (Processor) Delay(channel []float64, samples int) {
	n := len(channel)
	switch {
	case samples == 0 || n == 0:
		return
	case samples >= n || samples <= -n:
		clear(channel)
	case samples > 0:
		copy(channel[samples:], channel[:n-samples])
		clear(channel[:samples])
	default:
		shift := -samples
		copy(channel, channel[shift:])
		clear(channel[n-shift:])
	}
}

// RMS returns sqrt(mean(x^2)); an empty signal has RMS 0
func (Processor) RMS(mono []float64) float64 {
	if len(mono) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(mono, mono) / float64(len(mono)))
}
