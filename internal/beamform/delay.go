package beamform

import "math"

const (
	degToRad = math.Pi / 180.0

	// maxDelay bounds delays so the float to int conversion stays defined.
	// Any delay this large already exceeds every frame and zeroes the channel.
	maxDelay = float64(math.MaxInt32)
)

// direction selects which end of the array the wavefront is compensated from
type direction int

const (
	broadside direction = iota // deltaT == 0, nothing to shift
	forward                    // deltaT > 0, delay shrinks toward the last mic
	backward                   // deltaT < 0, delay grows toward the last mic
)

func directionOf(deltaT float64) direction {
	switch {
	case deltaT > 0:
		return forward
	case deltaT < 0:
		return backward
	default:
		return broadside
	}
}

// steps returns how many inter-mic intervals separate mic n (1-based)
// from the reference end for the given direction
func (d direction) steps(n, micCount int) int {
	switch d {
	case forward:
		return micCount - n
	case backward:
		return n - 1
	default:
		return 0
	}
}

// DeltaT returns the arrival time difference between two adjacent
// microphones for a plane wave incident at angleDeg (seconds)
func (a *Array) DeltaT(angleDeg float64) float64 {
	return a.geom.MicSpacing * math.Sin(angleDeg*degToRad) / a.geom.SpeedOfSound
}

// MicDelay returns the delay in samples for 1-based microphone n given
// the adjacent-mic time difference deltaT. Rounding is half-to-even.
func (a *Array) MicDelay(n int, deltaT float64) int {
	dir := directionOf(deltaT)
	return a.micDelay(dir, n, deltaT)
}

func (a *Array) micDelay(dir direction, n int, deltaT float64) int {
	steps := dir.steps(n, a.geom.MicCount)
	d := math.RoundToEven(float64(steps) * deltaT * a.geom.SampleRate)
	return int(max(min(d, maxDelay), -maxDelay))
}

// Delays returns the per-microphone sample delays for angleDeg, indexed
// from 0 for microphone 1. ok is false at broadside, where no channel
// should be shifted at all.
func (a *Array) Delays(angleDeg float64) (delays []int, ok bool) {
	deltaT := a.DeltaT(angleDeg)
	dir := directionOf(deltaT)
	if dir == broadside {
		return nil, false
	}

	delays = make([]int, a.geom.MicCount)
	for n := 1; n <= a.geom.MicCount; n++ {
		delays[n-1] = a.micDelay(dir, n, deltaT)
	}
	return delays, true
}
