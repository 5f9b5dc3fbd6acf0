package beamform

import "errors"

var (
	// ErrConfiguration reports an invalid array geometry or sweep range
	ErrConfiguration = errors.New("configuration error")

	// ErrDimensionMismatch reports a signal matrix whose channel count
	// differs from the configured microphone count
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNumeric reports NaN or infinite samples in the input signals
	ErrNumeric = errors.New("numeric error")
)
