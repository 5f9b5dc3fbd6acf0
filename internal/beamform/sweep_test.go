package beamform

import (
	"errors"
	"math"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/go-das/internal/dsp"
)

// recordingProcessor captures every delay the sweep asks for
type recordingProcessor struct {
	mu      sync.Mutex
	delays  []int
	rmsCall int
	inner   dsp.Processor
}

func (r *recordingProcessor) Delay(channel []float64, samples int) {
	r.mu.Lock()
	r.delays = append(r.delays, samples)
	r.mu.Unlock()
	r.inner.Delay(channel, samples)
}

func (r *recordingProcessor) RMS(mono []float64) float64 {
	r.mu.Lock()
	r.rmsCall++
	r.mu.Unlock()
	return r.inner.RMS(mono)
}

// impulseArrival builds a plane wave made of an impulse train arriving from
// angleDeg: channel n leads the reference by the array's own delay for mic
// n, so steering to angleDeg lines every impulse up again
func impulseArrival(a *Array, angleDeg float64, samples, period int) *mat.Dense {
	geom := a.Geometry()
	delays, ok := a.Delays(angleDeg)
	if !ok {
		delays = make([]int, geom.MicCount)
	}

	m := mat.NewDense(samples, geom.MicCount, nil)
	for ch, d := range delays {
		for k := 0; k < samples; k += period {
			if idx := k - d; idx >= 0 && idx < samples {
				m.Set(idx, ch, 1)
			}
		}
	}
	return m
}

func randomSignals(rows, cols int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(rows, cols, data)
}

func TestRange_Validate(t *testing.T) {
	tests := []struct {
		name    string
		r       Range
		wantErr bool
	}{
		{name: "default", r: DefaultRange()},
		{name: "single angle", r: Range{Start: 10, Stop: 10, Step: 1}},
		{name: "zero step", r: Range{Start: -90, Stop: 90, Step: 0}, wantErr: true},
		{name: "negative step", r: Range{Start: -90, Stop: 90, Step: -1}, wantErr: true},
		{name: "inverted", r: Range{Start: 10, Stop: -10, Step: 1}, wantErr: true},
		{name: "NaN start", r: Range{Start: math.NaN(), Stop: 10, Step: 1}, wantErr: true},
		{name: "infinite stop", r: Range{Start: 0, Stop: math.Inf(1), Step: 1}, wantErr: true},
		{name: "too many angles", r: Range{Start: -90, Stop: 90, Step: 1e-6}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestRange_Angles(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		want []float64
	}{
		{name: "single", r: Range{Start: 5, Stop: 5, Step: 1}, want: []float64{5}},
		{name: "uneven span stops short", r: Range{Start: 0, Stop: 10, Step: 3}, want: []float64{0, 3, 6, 9}},
		{name: "half steps", r: Range{Start: -1, Stop: 1, Step: 0.5}, want: []float64{-1, -0.5, 0, 0.5, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.r.Angles()
			if !slices.Equal(got, tt.want) {
				t.Errorf("Angles() = %v, want %v", got, tt.want)
			}
			if tt.r.Len() != len(tt.want) {
				t.Errorf("Len() = %d, want %d", tt.r.Len(), len(tt.want))
			}
		})
	}
}

func TestRange_LenIncludesStopDespiteRounding(t *testing.T) {
	// 0.3/0.1 evaluates to 2.9999999999999996
	r := Range{Start: 0, Stop: 0.3, Step: 0.1}
	if r.Len() != 4 {
		t.Errorf("expected 4 angles, got %d", r.Len())
	}
}

func TestSweep_DefaultRangeLength(t *testing.T) {
	a := newTestArray(t, Geometry{MicSpacing: 0.05, MicCount: 4}, Options{})

	points, err := a.Sweep(randomSignals(256, 4, 1), DefaultRange())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(points) != 181 {
		t.Fatalf("expected 181 points, got %d", len(points))
	}
	for i, p := range points {
		if want := float64(i - 90); p.AngleDeg != want {
			t.Fatalf("point %d: angle %v, want %v", i, p.AngleDeg, want)
		}
		if p.RMS < 0 {
			t.Fatalf("point %d: negative RMS %v", i, p.RMS)
		}
	}
}

func TestSweep_ZeroSignals(t *testing.T) {
	shapes := []struct{ samples, mics int }{
		{samples: 1, mics: 2},
		{samples: 100, mics: 3},
		{samples: 17, mics: 8},
	}

	for _, shape := range shapes {
		a := newTestArray(t, Geometry{MicSpacing: 0.05, MicCount: shape.mics}, Options{})
		rms, err := a.RMSSweep(mat.NewDense(shape.samples, shape.mics, nil), DefaultRange())
		if err != nil {
			t.Fatalf("%dx%d: RMSSweep failed: %v", shape.samples, shape.mics, err)
		}
		for i, v := range rms {
			if v != 0 {
				t.Fatalf("%dx%d: index %d has RMS %v, want 0", shape.samples, shape.mics, i, v)
			}
		}
	}
}

func TestSweep_IdempotentAndNonMutating(t *testing.T) {
	a := newTestArray(t, Geometry{MicSpacing: 0.05, MicCount: 4, SampleRate: 48000}, Options{})

	signals := randomSignals(512, 4, 42)
	original := mat.DenseCopyOf(signals)

	first, err := a.Sweep(signals, DefaultRange())
	if err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	second, err := a.Sweep(signals, DefaultRange())
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}

	if !slices.Equal(first, second) {
		t.Error("repeated sweeps returned different results")
	}
	if !mat.Equal(signals, original) {
		t.Error("sweep modified the caller's signals")
	}
}

func TestSweep_FindsArrivalAngle(t *testing.T) {
	a := newTestArray(t, Geometry{MicSpacing: 0.05, MicCount: 4, SampleRate: 192000}, Options{})

	signals := impulseArrival(a, 30, 4096, 256)
	points, err := a.Sweep(signals, DefaultRange())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	peak, ok := Peak(points)
	if !ok {
		t.Fatal("no peak")
	}
	if math.Abs(peak.AngleDeg-30) > 1 {
		t.Errorf("expected peak near 30°, got %v° (rms %f)", peak.AngleDeg, peak.RMS)
	}
}

func TestSweep_RecordsExactDelays(t *testing.T) {
	rec := &recordingProcessor{}
	a := newTestArray(t, Geometry{MicSpacing: 0.05, MicCount: 4, SampleRate: 192000}, Options{Processor: rec})

	if _, err := a.Sweep(randomSignals(128, 4, 7), Range{Start: 30, Stop: 30, Step: 1}); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if want := []int{42, 28, 14, 0}; !slices.Equal(rec.delays, want) {
		t.Errorf("recorded delays %v, want %v", rec.delays, want)
	}
	if rec.rmsCall != 1 {
		t.Errorf("expected 1 RMS call, got %d", rec.rmsCall)
	}
}

func TestSweep_BroadsideSkipsDelay(t *testing.T) {
	rec := &recordingProcessor{}
	a := newTestArray(t, Geometry{MicSpacing: 0.05, MicCount: 4}, Options{Processor: rec})

	signals := randomSignals(64, 4, 3)
	rms, err := a.RMSSweep(signals, Range{Start: 0, Stop: 0, Step: 1})
	if err != nil {
		t.Fatalf("RMSSweep failed: %v", err)
	}

	if len(rec.delays) != 0 {
		t.Errorf("expected no delay calls at broadside, got %v", rec.delays)
	}

	// Broadside is the plain channel sum
	mono := make([]float64, 64)
	for i := range mono {
		for j := 0; j < 4; j++ {
			mono[i] += signals.At(i, j)
		}
	}
	if want := dsp.NewProcessor().RMS(mono); math.Abs(rms[0]-want) > 1e-12 {
		t.Errorf("broadside RMS %f, want %f", rms[0], want)
	}
}

func TestSweep_DimensionMismatch(t *testing.T) {
	rec := &recordingProcessor{}
	a := newTestArray(t, Geometry{MicSpacing: 0.05, MicCount: 4}, Options{Processor: rec})

	for _, channels := range []int{2, 3, 5} {
		_, err := a.Sweep(mat.NewDense(32, channels, nil), DefaultRange())
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("%d channels: expected ErrDimensionMismatch, got %v", channels, err)
		}
	}

	if len(rec.delays) != 0 || rec.rmsCall != 0 {
		t.Errorf("processor was called before validation failed: %d delays, %d rms", len(rec.delays), rec.rmsCall)
	}
}

func TestSweep_InvalidRange(t *testing.T) {
	rec := &recordingProcessor{}
	a := newTestArray(t, Geometry{MicSpacing: 0.05, MicCount: 4}, Options{Processor: rec})
	signals := randomSignals(32, 4, 5)

	ranges := []Range{
		{Start: -90, Stop: 90, Step: 0},
		{Start: 45, Stop: -45, Step: 1},
	}
	for _, r := range ranges {
		points, err := a.Sweep(signals, r)
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("range %+v: expected ErrConfiguration, got %v", r, err)
		}
		if points != nil {
			t.Errorf("range %+v: expected no partial results, got %d points", r, len(points))
		}
	}

	if rec.rmsCall != 0 {
		t.Errorf("expected no processing, got %d RMS calls", rec.rmsCall)
	}
}

func TestSweep_NonFinite(t *testing.T) {
	a := newTestArray(t, Geometry{MicSpacing: 0.05, MicCount: 3}, Options{})

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		signals := randomSignals(16, 3, 9)
		signals.Set(10, 2, bad)

		if _, err := a.Sweep(signals, DefaultRange()); !errors.Is(err, ErrNumeric) {
			t.Errorf("sample %v: expected ErrNumeric, got %v", bad, err)
		}
	}
}

func TestSweep_ExtremeGeometry(t *testing.T) {
	a := newTestArray(t, Geometry{MicSpacing: 1, MicCount: 4, SampleRate: 1e300}, Options{})

	signals := randomSignals(16, 4, 1)
	rms, err := a.RMSSweep(signals, Range{Start: 30, Stop: 30, Step: 1})
	if err != nil {
		t.Fatalf("RMSSweep failed: %v", err)
	}

	// Mics 1-3 shift out of the frame; only the last mic survives
	last := make([]float64, 16)
	mat.Col(last, 3, signals)
	if want := dsp.NewProcessor().RMS(last); math.Abs(rms[0]-want) > 1e-12 {
		t.Errorf("RMS %f, want %f", rms[0], want)
	}
}

func TestSweep_ParallelMatchesSequential(t *testing.T) {
	geom := Geometry{MicSpacing: 0.04, MicCount: 6, SampleRate: 48000}
	sequential := newTestArray(t, geom, Options{})
	parallel := newTestArray(t, geom, Options{Workers: 4})

	signals := randomSignals(1024, 6, 11)
	r := Range{Start: -90, Stop: 90, Step: 0.5}

	want, err := sequential.Sweep(signals, r)
	if err != nil {
		t.Fatalf("sequential sweep failed: %v", err)
	}
	got, err := parallel.Sweep(signals, r)
	if err != nil {
		t.Fatalf("parallel sweep failed: %v", err)
	}

	if !slices.Equal(got, want) {
		t.Error("parallel sweep differs from sequential sweep")
	}
}

func TestPeak(t *testing.T) {
	if _, ok := Peak(nil); ok {
		t.Error("expected no peak for empty input")
	}

	points := []Point{
		{AngleDeg: -10, RMS: 1},
		{AngleDeg: 0, RMS: 3},
		{AngleDeg: 10, RMS: 3},
		{AngleDeg: 20, RMS: 2},
	}
	peak, ok := Peak(points)
	if !ok {
		t.Fatal("expected a peak")
	}
	if peak.AngleDeg != 0 {
		t.Errorf("expected first maximum at 0°, got %v°", peak.AngleDeg)
	}
}
