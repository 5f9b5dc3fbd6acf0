package beamform

// Processor provides the sample-level primitives the sweep depends on.
// Implementations must be safe for concurrent use when the array runs
// with more than one worker.
type Processor interface {
	// Delay shifts channel in place by samples. Positive values delay the
	// signal, negative values advance it. The length never changes.
	Delay(channel []float64, samples int)

	// RMS returns the root-mean-square of mono
	RMS(mono []float64) float64
}
