// Package pcm converts interleaved capture buffers into signal matrices
package pcm

import (
	"encoding/binary"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/go-das/internal/beamform"
)

// BytesPerSample is the width of one s16le sample
const BytesPerSample = 2

// Decode converts interleaved signed 16-bit little-endian PCM into a
// (samples x channels) matrix scaled to [-1, 1).
func Decode(data []byte, channels int) (*mat.Dense, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channels must be positive, got %d", beamform.ErrConfiguration, channels)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty pcm buffer", beamform.ErrDimensionMismatch)
	}

	if channels > len(data)/BytesPerSample {
		return nil, fmt.Errorf("%w: %d bytes hold less than one %d-channel frame",
			beamform.ErrDimensionMismatch, len(data), channels)
	}

	frameBytes := channels * BytesPerSample
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames",
			beamform.ErrDimensionMismatch, len(data), channels)
	}

	samples := make([]float64, len(data)/BytesPerSample)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		samples[i] = float64(v) / 32768
	}

	// Row-major storage matches the interleaved layout
	return mat.NewDense(len(data)/frameBytes, channels, samples), nil
}

// Encode is the inverse of Decode. Values are clipped to the s16 range.
func Encode(signals mat.Matrix) []byte {
	rows, cols := signals.Dims()
	out := make([]byte, rows*cols*BytesPerSample)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := signals.At(i, j) * 32768
			switch {
			case v > 32767:
				v = 32767
			case v < -32768:
				v = -32768
			}
			off := (i*cols + j) * BytesPerSample
			binary.LittleEndian.PutUint16(out[off:], uint16(int16(v)))
		}
	}
	return out
}
