// Package synth generates plane-wave array captures for testing and demos
package synth

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/go-das/internal/beamform"
	"github.com/teslashibe/go-das/internal/doa"
)

// Waveform names accepted by Config.Waveform
const (
	WaveformImpulse = "impulse"
	WaveformTone    = "tone"
)

// Config controls the synthetic capture
type Config struct {
	AngleDeg    float64 // True angle of arrival
	Samples     int     // Samples per channel per frame
	Waveform    string  // impulse or tone
	Period      int     // Impulse spacing in samples
	ToneHz      float64 // Tone frequency
	NoiseStdDev float64 // Additive Gaussian noise per sample
	Wave        bool    // Sweep the true angle ±45° around AngleDeg over time
	Seed        int64
}

// DefaultConfig returns a 30° impulse train
func DefaultConfig() Config {
	return Config{
		AngleDeg: 30,
		Samples:  4096,
		Waveform: WaveformImpulse,
		Period:   256,
		ToneHz:   1000,
		Seed:     1,
	}
}

// Source synthesizes frames for a plane wave hitting the array
type Source struct {
	mu        sync.Mutex
	array     *beamform.Array
	cfg       Config
	rng       *rand.Rand
	healthy   bool
	startTime time.Time
}

// NewSource creates a synthetic source for array
func NewSource(array *beamform.Array, cfg Config) (*Source, error) {
	if cfg.Samples <= 0 {
		return nil, fmt.Errorf("samples must be positive, got %d", cfg.Samples)
	}
	switch cfg.Waveform {
	case WaveformImpulse:
		if cfg.Period <= 0 {
			return nil, fmt.Errorf("impulse period must be positive, got %d", cfg.Period)
		}
	case WaveformTone:
		if cfg.ToneHz <= 0 {
			return nil, fmt.Errorf("tone frequency must be positive, got %f", cfg.ToneHz)
		}
	default:
		return nil, fmt.Errorf("unknown waveform %q", cfg.Waveform)
	}
	if cfg.NoiseStdDev < 0 {
		return nil, fmt.Errorf("noise must be non-negative, got %f", cfg.NoiseStdDev)
	}

	return &Source{
		array:     array,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		healthy:   true,
		startTime: time.Now(),
	}, nil
}

// Capture returns the next synthetic frame
func (s *Source) Capture(ctx context.Context) (doa.Frame, error) {
	if err := ctx.Err(); err != nil {
		return doa.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.healthy {
		return doa.Frame{}, fmt.Errorf("synthetic source marked unhealthy")
	}

	var reference []float64
	switch s.cfg.Waveform {
	case WaveformTone:
		reference = Tone(s.cfg.Samples, s.cfg.ToneHz, s.array.Geometry().SampleRate)
	default:
		reference = ImpulseTrain(s.cfg.Samples, s.cfg.Period)
	}

	signals := Arrival(s.array, s.angleLocked(), reference)

	if s.cfg.NoiseStdDev > 0 {
		raw := signals.RawMatrix()
		for i := range raw.Data {
			raw.Data[i] += s.rng.NormFloat64() * s.cfg.NoiseStdDev
		}
	}

	return doa.Frame{Signals: signals, Timestamp: time.Now()}, nil
}

func (s *Source) angleLocked() float64 {
	if !s.cfg.Wave {
		return s.cfg.AngleDeg
	}
	// Simulate a source moving left-right
	elapsed := time.Since(s.startTime).Seconds()
	return s.cfg.AngleDeg + math.Sin(elapsed)*45
}

// Close releases resources
func (s *Source) Close() error {
	return nil
}

// Healthy returns true if the source is operational
func (s *Source) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

// Name returns the source type name
func (s *Source) Name() string {
	return "synthetic"
}

// SetAngle sets the true angle of arrival in degrees
func (s *Source) SetAngle(angleDeg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.AngleDeg = angleDeg
}

// Angle returns the configured angle of arrival in degrees
func (s *Source) Angle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.AngleDeg
}

// SetHealthy sets the mock health state
func (s *Source) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// Arrival lays reference out across the array as a plane wave from
// angleDeg. Channel n leads the reference by the array's delay for mic n,
// so steering the array to angleDeg realigns every channel. Samples
// pushed past the end are replaced with zeros.
func Arrival(array *beamform.Array, angleDeg float64, reference []float64) *mat.Dense {
	mics := array.Geometry().MicCount
	samples := len(reference)

	delays, ok := array.Delays(angleDeg)
	if !ok {
		delays = make([]int, mics)
	}

	m := mat.NewDense(samples, mics, nil)
	for ch, d := range delays {
		for t := 0; t < samples; t++ {
			if src := t + d; src >= 0 && src < samples {
				m.Set(t, ch, reference[src])
			}
		}
	}
	return m
}

// ImpulseTrain returns unit impulses every period samples starting at 0
func ImpulseTrain(samples, period int) []float64 {
	train := make([]float64, samples)
	for i := 0; i < samples; i += period {
		train[i] = 1
	}
	return train
}

// Tone returns a unit sine at freqHz
func Tone(samples int, freqHz, sampleRate float64) []float64 {
	tone := make([]float64, samples)
	step := 2 * math.Pi * freqHz / sampleRate
	for i := range tone {
		tone[i] = math.Sin(step * float64(i))
	}
	return tone
}
