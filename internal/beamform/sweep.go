package beamform

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// rangeTolerance absorbs float error in (Stop-Start)/Step so that an
	// evenly divided span always includes Stop
	rangeTolerance = 1e-9

	// MaxSweepPoints bounds the number of angles in a single sweep
	MaxSweepPoints = 1 << 20
)

// Range is an inclusive angle sweep in degrees
type Range struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Step  float64 `json:"step"`
}

// DefaultRange sweeps the full half plane in one-degree steps
func DefaultRange() Range {
	return Range{Start: -90, Stop: 90, Step: 1}
}

// Validate checks the range invariants
func (r Range) Validate() error {
	for _, v := range []float64{r.Start, r.Stop, r.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: sweep range must be finite, got %+v", ErrConfiguration, r)
		}
	}
	if r.Step <= 0 {
		return fmt.Errorf("%w: angle step must be positive, got %v", ErrConfiguration, r.Step)
	}
	if r.Start > r.Stop {
		return fmt.Errorf("%w: start angle %v exceeds stop angle %v", ErrConfiguration, r.Start, r.Stop)
	}
	if span := (r.Stop - r.Start) / r.Step; span >= MaxSweepPoints {
		return fmt.Errorf("%w: sweep of %.0f angles exceeds limit %d", ErrConfiguration, span+1, MaxSweepPoints)
	}
	return nil
}

// Len returns the number of angles in a valid range
func (r Range) Len() int {
	span := (r.Stop - r.Start) / r.Step
	return int(math.Floor(span*(1+rangeTolerance))) + 1
}

// Angles returns Start, Start+Step, ... up to Stop
func (r Range) Angles() []float64 {
	angles := make([]float64, r.Len())
	for i := range angles {
		angles[i] = r.Start + float64(i)*r.Step
	}
	return angles
}

// Point is one sample of the angle/power curve
type Point struct {
	AngleDeg float64 `json:"angle_deg"`
	RMS      float64 `json:"rms"`
}

// Sweep steers the array across r and returns the RMS of the
// delay-and-sum output at every angle, in ascending angle order.
// signals is (samples x channels) and is never modified.
func (a *Array) Sweep(signals mat.Matrix, r Range) ([]Point, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := a.checkSignals(signals); err != nil {
		return nil, err
	}

	angles := r.Angles()
	points := make([]Point, len(angles))

	if a.workers > 1 && len(angles) > 1 {
		a.sweepParallel(signals, angles, points)
	} else {
		for i, angle := range angles {
			points[i] = Point{AngleDeg: angle, RMS: a.power(signals, angle)}
		}
	}

	if peak, ok := Peak(points); ok {
		a.logger.Debug("sweep complete",
			"angles", len(points),
			"workers", a.workers,
			"peak_angle_deg", peak.AngleDeg,
			"peak_rms", peak.RMS,
		)
	}

	return points, nil
}

// RMSSweep is Sweep reduced to the RMS values, index-aligned with r.Angles()
func (a *Array) RMSSweep(signals mat.Matrix, r Range) ([]float64, error) {
	points, err := a.Sweep(signals, r)
	if err != nil {
		return nil, err
	}
	rms := make([]float64, len(points))
	for i, p := range points {
		rms[i] = p.RMS
	}
	return rms, nil
}

// sweepParallel fans angles out to a fixed pool of workers. Each worker
// writes only its own indices of points.
func (a *Array) sweepParallel(signals mat.Matrix, angles []float64, points []Point) {
	workers := a.workers
	if workers > len(angles) {
		workers = len(angles)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				points[i] = Point{AngleDeg: angles[i], RMS: a.power(signals, angles[i])}
			}
		}()
	}

	for i := range angles {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

// power evaluates one steering angle on a private copy of signals
func (a *Array) power(signals mat.Matrix, angleDeg float64) float64 {
	work := mat.DenseCopyOf(signals)
	rows, cols := work.Dims()

	if delays, ok := a.Delays(angleDeg); ok {
		channel := make([]float64, rows)
		for j := 0; j < cols; j++ {
			mat.Col(channel, j, work)
			a.proc.Delay(channel, delays[j])
			work.SetCol(j, channel)
		}
	}

	mono := make([]float64, rows)
	for i := range mono {
		mono[i] = floats.Sum(work.RawRowView(i))
	}
	return a.proc.RMS(mono)
}

func (a *Array) checkSignals(signals mat.Matrix) error {
	if d, ok := signals.(*mat.Dense); signals == nil || (ok && d == nil) {
		return fmt.Errorf("%w: no signals", ErrDimensionMismatch)
	}

	rows, cols := signals.Dims()
	if rows == 0 {
		return fmt.Errorf("%w: signals have no samples", ErrDimensionMismatch)
	}
	if cols != a.geom.MicCount {
		return fmt.Errorf("%w: signals have %d channels, array has %d microphones",
			ErrDimensionMismatch, cols, a.geom.MicCount)
	}

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := signals.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite sample %v at row %d, channel %d", ErrNumeric, v, i, j)
			}
		}
	}
	return nil
}

// Peak returns the first point with the highest RMS.
// ok is false when points is empty.
func Peak(points []Point) (Point, bool) {
	if len(points) == 0 {
		return Point{}, false
	}
	best := points[0]
	for _, p := range points[1:] {
		if p.RMS > best.RMS {
			best = p
		}
	}
	return best, true
}
