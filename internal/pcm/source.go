package pcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-das/internal/doa"
)

// Source reads fixed-size frames of interleaved s16le PCM from a stream,
// e.g. a file or the stdout of `arecord -t raw -f S16_LE -c N`.
type Source struct {
	mu           sync.Mutex
	r            io.ReadCloser
	channels     int
	frameSamples int
	buf          []byte

	healthy       atomic.Bool
	framesRead    atomic.Uint64
	bytesConsumed atomic.Uint64
}

// NewSource wraps r. Each Capture reads frameSamples samples per channel.
func NewSource(r io.ReadCloser, channels, frameSamples int) (*Source, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", channels)
	}
	if frameSamples <= 0 {
		return nil, fmt.Errorf("frame samples must be positive, got %d", frameSamples)
	}

	s := &Source{
		r:            r,
		channels:     channels,
		frameSamples: frameSamples,
		buf:          make([]byte, channels*frameSamples*BytesPerSample),
	}
	s.healthy.Store(true)
	return s, nil
}

// Open opens path as a PCM source. "-" reads stdin.
func Open(path string, channels, frameSamples int) (*Source, error) {
	if path == "-" {
		return NewSource(io.NopCloser(os.Stdin), channels, frameSamples)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcm source: %w", err)
	}

	s, err := NewSource(f, channels, frameSamples)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Capture reads and decodes the next frame. The stream ending marks the
// source unhealthy and returns io.EOF.
func (s *Source) Capture(ctx context.Context) (doa.Frame, error) {
	if err := ctx.Err(); err != nil {
		return doa.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := io.ReadFull(s.r, s.buf)
	s.bytesConsumed.Add(uint64(n))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		s.healthy.Store(false)
		return doa.Frame{}, fmt.Errorf("read pcm frame: %w", err)
	}

	signals, err := Decode(s.buf, s.channels)
	if err != nil {
		return doa.Frame{}, err
	}

	s.framesRead.Add(1)
	return doa.Frame{Signals: signals, Timestamp: time.Now()}, nil
}

// Close releases the underlying stream
func (s *Source) Close() error {
	s.healthy.Store(false)
	return s.r.Close()
}

// Healthy returns false once the stream has ended or failed
func (s *Source) Healthy() bool {
	return s.healthy.Load()
}

// Name returns the source type name
func (s *Source) Name() string {
	return "pcm"
}

// FramesRead returns the number of frames decoded so far
func (s *Source) FramesRead() uint64 {
	return s.framesRead.Load()
}
