// Package beamform implements plane-wave delay-and-sum beamforming for a
// uniform linear microphone array
package beamform

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/teslashibe/go-das/internal/dsp"
)

const (
	// DefaultSpeedOfSound is the speed of sound in air at ~20°C (m/s)
	DefaultSpeedOfSound = 343.0

	// DefaultSampleRate gives the default 0.05 m, 4-mic array one-sample
	// resolution per degree around 30° (Hz)
	DefaultSampleRate = 192000.0
)

// Geometry describes a uniform linear array and the physical constants
// needed to turn an incidence angle into sample delays.
// Zero SpeedOfSound or SampleRate select the defaults.
type Geometry struct {
	MicSpacing   float64 // Distance between adjacent microphones (meters)
	MicCount     int     // Number of microphones, at least 2
	SpeedOfSound float64 // Propagation speed (m/s)
	SampleRate   float64 // Samples per second per channel
}

// Validate checks the geometry invariants
func (g Geometry) Validate() error {
	if g.MicCount < 2 {
		return fmt.Errorf("%w: mic count must be at least 2, got %d", ErrConfiguration, g.MicCount)
	}
	if !(g.MicSpacing > 0) || math.IsInf(g.MicSpacing, 0) {
		return fmt.Errorf("%w: mic spacing must be positive, got %v", ErrConfiguration, g.MicSpacing)
	}
	if g.SpeedOfSound < 0 || math.IsNaN(g.SpeedOfSound) || math.IsInf(g.SpeedOfSound, 0) {
		return fmt.Errorf("%w: speed of sound must be positive, got %v", ErrConfiguration, g.SpeedOfSound)
	}
	if g.SampleRate < 0 || math.IsNaN(g.SampleRate) || math.IsInf(g.SampleRate, 0) {
		return fmt.Errorf("%w: sample rate must be positive, got %v", ErrConfiguration, g.SampleRate)
	}
	return nil
}

func (g Geometry) withDefaults() Geometry {
	if g.SpeedOfSound == 0 {
		g.SpeedOfSound = DefaultSpeedOfSound
	}
	if g.SampleRate == 0 {
		g.SampleRate = DefaultSampleRate
	}
	return g
}

// Options configures an Array beyond its geometry
type Options struct {
	Processor Processor    // nil selects the zero-fill dsp.Processor
	Workers   int          // angles evaluated concurrently; <= 1 runs sequentially
	Logger    *slog.Logger // nil selects slog.Default()
}

// Array is an immutable delay-and-sum beamformer
type Array struct {
	geom    Geometry
	proc    Processor
	workers int
	logger  *slog.Logger
}

// NewArray validates geom and builds an Array
func NewArray(geom Geometry, opts Options) (*Array, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}

	proc := opts.Processor
	if proc == nil {
		proc = dsp.NewProcessor()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	return &Array{
		geom:    geom.withDefaults(),
		proc:    proc,
		workers: workers,
		logger:  logger,
	}, nil
}

// Geometry returns the array geometry with defaults applied
func (a *Array) Geometry() Geometry {
	return a.geom
}

// Workers returns the number of sweep workers
func (a *Array) Workers() int {
	return a.workers
}

func (a *Array) String() string {
	return fmt.Sprintf("delay-and-sum array: %d mics, %.4g m spacing", a.geom.MicCount, a.geom.MicSpacing)
}
