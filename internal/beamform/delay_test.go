package beamform

import (
	"errors"
	"math"
	"slices"
	"testing"
)

func newTestArray(t *testing.T, geom Geometry, opts Options) *Array {
	t.Helper()
	a, err := NewArray(geom, opts)
	if err != nil {
		t.Fatalf("NewArray(%+v) failed: %v", geom, err)
	}
	return a
}

func TestNewArray_Validation(t *testing.T) {
	tests := []struct {
		name    string
		geom    Geometry
		wantErr bool
	}{
		{
			name: "valid",
			geom: Geometry{MicSpacing: 0.05, MicCount: 4},
		},
		{
			name: "two mics is the minimum",
			geom: Geometry{MicSpacing: 0.1, MicCount: 2},
		},
		{
			name:    "single mic",
			geom:    Geometry{MicSpacing: 0.05, MicCount: 1},
			wantErr: true,
		},
		{
			name:    "zero spacing",
			geom:    Geometry{MicSpacing: 0, MicCount: 4},
			wantErr: true,
		},
		{
			name:    "negative spacing",
			geom:    Geometry{MicSpacing: -0.05, MicCount: 4},
			wantErr: true,
		},
		{
			name:    "NaN spacing",
			geom:    Geometry{MicSpacing: math.NaN(), MicCount: 4},
			wantErr: true,
		},
		{
			name:    "negative speed of sound",
			geom:    Geometry{MicSpacing: 0.05, MicCount: 4, SpeedOfSound: -1},
			wantErr: true,
		},
		{
			name:    "negative sample rate",
			geom:    Geometry{MicSpacing: 0.05, MicCount: 4, SampleRate: -16000},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewArray(tt.geom, Options{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewArray() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestNewArray_Defaults(t *testing.T) {
	a := newTestArray(t, Geometry{MicSpacing: 0.05, MicCount: 4}, Options{})

	geom := a.Geometry()
	if geom.SpeedOfSound != DefaultSpeedOfSound {
		t.Errorf("expected speed of sound %f, got %f", DefaultSpeedOfSound, geom.SpeedOfSound)
	}
	if geom.SampleRate != DefaultSampleRate {
		t.Errorf("expected sample rate %f, got %f", DefaultSampleRate, geom.SampleRate)
	}
	if a.Workers() != 1 {
		t.Errorf("expected 1 worker, got %d", a.Workers())
	}
}

func TestDeltaT_Broadside(t *testing.T) {
	for _, spacing := range []float64{0.01, 0.05, 0.1, 1} {
		a := newTestArray(t, Geometry{MicSpacing: spacing, MicCount: 4}, Options{})
		if got := a.DeltaT(0); got != 0 {
			t.Errorf("spacing %f: DeltaT(0) = %g, want exactly 0", spacing, got)
		}
	}
}

func TestDeltaT_Odd(t *testing.T) {
	a := newTestArray(t, Geometry{MicSpacing: 0.07, MicCount: 6}, Options{})

	for angle := -90.0; angle <= 90; angle += 7.5 {
		pos := a.DeltaT(angle)
		neg := a.DeltaT(-angle)
		if math.Abs(pos+neg) > 1e-18 {
			t.Errorf("DeltaT(%v) = %g, DeltaT(%v) = %g, not odd", angle, pos, -angle, neg)
		}
	}
}

func TestDeltaT_ClosedForm(t *testing.T) {
	a := newTestArray(t, Geometry{MicSpacing: 0.1, MicCount: 4}, Options{})

	want := 0.1 * math.Sin(math.Pi/6) / DefaultSpeedOfSound
	got := a.DeltaT(30)
	if math.Abs(got-want) > 1e-15 {
		t.Errorf("DeltaT(30) = %g, want %g", got, want)
	}
}

func TestMicDelay_RoundHalfEven(t *testing.T) {
	a := newTestArray(t, Geometry{MicSpacing: 1, MicCount: 4, SampleRate: 1}, Options{})

	tests := []struct {
		name   string
		mic    int
		deltaT float64
		want   int
	}{
		{name: "forward mic 1 (1.5)", mic: 1, deltaT: 0.5, want: 2},
		{name: "forward mic 2 (1.0)", mic: 2, deltaT: 0.5, want: 1},
		{name: "forward mic 3 (0.5)", mic: 3, deltaT: 0.5, want: 0},
		{name: "forward last mic", mic: 4, deltaT: 0.5, want: 0},
		{name: "backward first mic", mic: 1, deltaT: -0.5, want: 0},
		{name: "backward mic 2 (-0.5)", mic: 2, deltaT: -0.5, want: 0},
		{name: "backward mic 4 (-1.5)", mic: 4, deltaT: -0.5, want: -2},
		{name: "broadside", mic: 1, deltaT: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.MicDelay(tt.mic, tt.deltaT); got != tt.want {
				t.Errorf("MicDelay(%d, %v) = %d, want %d", tt.mic, tt.deltaT, got, tt.want)
			}
		})
	}
}

func TestDelays(t *testing.T) {
	a := newTestArray(t, Geometry{MicSpacing: 0.05, MicCount: 4, SampleRate: 192000}, Options{})

	tests := []struct {
		name   string
		angle  float64
		want   []int
		wantOK bool
	}{
		{
			name:   "positive angle tapers toward the last mic",
			angle:  30,
			want:   []int{42, 28, 14, 0},
			wantOK: true,
		},
		{
			name:   "negative angle tapers away from the first mic",
			angle:  -30,
			want:   []int{0, -14, -28, -42},
			wantOK: true,
		},
		{
			name:   "broadside is skipped",
			angle:  0,
			want:   nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := a.Delays(tt.angle)
			if ok != tt.wantOK {
				t.Fatalf("Delays(%v) ok = %v, want %v", tt.angle, ok, tt.wantOK)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Delays(%v) = %v, want %v", tt.angle, got, tt.want)
			}
		})
	}
}

func TestDelays_ExtremeGeometryStaysBounded(t *testing.T) {
	a := newTestArray(t, Geometry{MicSpacing: 1, MicCount: 4, SampleRate: 1e300}, Options{})

	for _, angle := range []float64{30, -30, 90, -90} {
		delays, ok := a.Delays(angle)
		if !ok {
			t.Fatalf("Delays(%v) skipped", angle)
		}
		for i, d := range delays {
			if d > math.MaxInt32 || d < -math.MaxInt32 {
				t.Errorf("Delays(%v)[%d] = %d, outside the int32 range", angle, i, d)
			}
		}
	}
}
