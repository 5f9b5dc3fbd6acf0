package doa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-das/internal/beamform"
)

// ErrAlreadyRunning is returned by a second call to Run
var ErrAlreadyRunning = errors.New("tracker already running")

// TrackerConfig configures the DOA tracker
type TrackerConfig struct {
	PollInterval time.Duration
	EMAAlpha     float64
	HistorySize  int
	Range        beamform.Range

	Confidence ConfidenceConfig
}

// ConfidenceConfig configures confidence scoring
type ConfidenceConfig struct {
	Base           float64
	ContrastBonus  float64 // Added when peak/mean RMS reaches MinContrast
	StabilityBonus float64 // Added when recent angles agree
	MinContrast    float64
}

// DefaultTrackerConfig returns sensible defaults
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		PollInterval: 100 * time.Millisecond, // 10Hz
		EMAAlpha:     0.3,
		HistorySize:  100,
		Range:        beamform.DefaultRange(),
		Confidence: ConfidenceConfig{
			Base:           0.3,
			ContrastBonus:  0.4,
			StabilityBonus: 0.2,
			MinContrast:    1.5,
		},
	}
}

// Result is one processed sweep
type Result struct {
	Timestamp     time.Time `json:"timestamp"`
	Angle         float64   `json:"angle_deg"`          // Peak of this sweep
	SmoothedAngle float64   `json:"smoothed_angle_deg"` // EMA of peaks
	PeakRMS       float64   `json:"peak_rms"`
	MeanRMS       float64   `json:"mean_rms"`
	Contrast      float64   `json:"contrast"` // PeakRMS / MeanRMS
	Confidence    float64   `json:"confidence"`
	LatencyMs     int64     `json:"latency_ms"`
}

// Tracker polls a source, sweeps every frame and smooths the peak angle
type Tracker struct {
	source Source
	array  *beamform.Array
	cfg    TrackerConfig
	logger *slog.Logger

	mu          sync.RWMutex
	latest      Result
	latestSweep []beamform.Point
	history     []Result

	// Metrics
	pollCount      int64
	pollErrorCount int64
	totalLatencyMs int64

	// Lifecycle
	stopCtx  context.Context
	stopFunc context.CancelFunc
	started  bool
	done     chan struct{}

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Result]struct{}
}

// NewTracker creates a new DOA tracker
func NewTracker(source Source, array *beamform.Array, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}

	stopCtx, stopFunc := context.WithCancel(context.Background())

	return &Tracker{
		source:   source,
		array:    array,
		cfg:      cfg,
		logger:   logger,
		history:  make([]Result, 0, max(cfg.HistorySize, 0)),
		stopCtx:  stopCtx,
		stopFunc: stopFunc,
		done:     make(chan struct{}),
		subs:     make(map[chan Result]struct{}),
	}
}

// Run starts the polling loop (blocking, use goroutine). It returns when
// ctx is done or Stop is called, and may only be called once.
func (t *Tracker) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.started = true
	t.mu.Unlock()
	defer close(t.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(t.stopCtx, cancel)()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.logger.Info("tracker started",
		"poll_interval", t.cfg.PollInterval,
		"ema_alpha", t.cfg.EMAAlpha,
		"range", t.Range(),
		"array", t.array.String(),
		"source", t.source.Name(),
	)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracker stopped",
				"polls", t.pollCount,
				"errors", t.pollErrorCount,
			)
			return ctx.Err()
		case <-ticker.C:
			if err := t.poll(ctx); err != nil {
				t.logger.Warn("poll failed", "error", err)
			}
		}
	}
}

func (t *Tracker) poll(ctx context.Context) error {
	start := time.Now()

	frame, err := t.source.Capture(ctx)
	if err != nil {
		t.countError()
		return fmt.Errorf("capture: %w", err)
	}

	points, err := t.array.Sweep(frame.Signals, t.Range())
	if err != nil {
		t.countError()
		return fmt.Errorf("sweep: %w", err)
	}

	peak, ok := beamform.Peak(points)
	if !ok {
		t.countError()
		return fmt.Errorf("sweep returned no points")
	}

	rms := make([]float64, len(points))
	for i, p := range points {
		rms[i] = p.RMS
	}
	mean := stat.Mean(rms, nil)

	contrast := 0.0
	if mean > 0 {
		contrast = peak.RMS / mean
	}

	latencyMs := time.Since(start).Milliseconds()

	timestamp := frame.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.pollCount++
	t.totalLatencyMs += latencyMs

	// Smooth angle with EMA
	smoothedAngle := peak.AngleDeg
	if len(t.history) > 0 {
		prev := t.latest.SmoothedAngle
		smoothedAngle = t.cfg.EMAAlpha*peak.AngleDeg + (1-t.cfg.EMAAlpha)*prev
	}

	result := Result{
		Timestamp:     timestamp,
		Angle:         peak.AngleDeg,
		SmoothedAngle: smoothedAngle,
		PeakRMS:       peak.RMS,
		MeanRMS:       mean,
		Contrast:      contrast,
		Confidence:    t.calculateConfidence(contrast, smoothedAngle),
		LatencyMs:     latencyMs,
	}

	t.latest = result
	t.latestSweep = points
	t.appendHistory(result)

	// Notify subscribers (non-blocking)
	t.notifySubscribers(result)

	if t.pollCount%10 == 0 {
		t.logger.Debug("doa poll",
			"angle_deg", peak.AngleDeg,
			"smoothed_angle_deg", smoothedAngle,
			"contrast", contrast,
			"confidence", result.Confidence,
			"latency_ms", latencyMs,
		)
	}

	return nil
}

func (t *Tracker) countError() {
	t.mu.Lock()
	t.pollErrorCount++
	t.mu.Unlock()
}

func (t *Tracker) calculateConfidence(contrast, angle float64) float64 {
	conf := t.cfg.Confidence.Base

	if contrast >= t.cfg.Confidence.MinContrast {
		conf += t.cfg.Confidence.ContrastBonus
	}

	// Check angle stability over last 5 readings
	if len(t.history) >= 5 {
		var variance float64
		for i := len(t.history) - 5; i < len(t.history); i++ {
			diff := t.history[i].SmoothedAngle - angle
			variance += diff * diff
		}
		variance /= 5

		// degrees squared
		if variance < 4 {
			conf += t.cfg.Confidence.StabilityBonus
		}
	}

	return Clamp(conf, 0, 1)
}

func (t *Tracker) appendHistory(result Result) {
	if t.cfg.HistorySize <= 0 {
		return
	}

	t.history = append(t.history, result)

	// Trim history
	if len(t.history) > t.cfg.HistorySize {
		// Shift instead of slice to avoid memory leak
		copy(t.history, t.history[1:])
		t.history = t.history[:t.cfg.HistorySize]
	}
}

func (t *Tracker) notifySubscribers(result Result) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()

	for ch := range t.subs {
		select {
		case ch <- result:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives DOA updates
func (t *Tracker) Subscribe() chan Result {
	ch := make(chan Result, 10) // Buffer to avoid blocking

	t.subsMu.Lock()
	t.subs[ch] = struct{}{}
	t.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (t *Tracker) Unsubscribe(ch chan Result) {
	t.subsMu.Lock()
	if _, exists := t.subs[ch]; exists {
		delete(t.subs, ch)
		close(ch)
	}
	t.subsMu.Unlock()
}

// GetLatest returns the most recent DOA result
func (t *Tracker) GetLatest() Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// LatestSweep returns a copy of the most recent angle/power curve
func (t *Tracker) LatestSweep() []beamform.Point {
	t.mu.RLock()
	defer t.mu.RUnlock()

	points := make([]beamform.Point, len(t.latestSweep))
	copy(points, t.latestSweep)
	return points
}

// Range returns the sweep range used for each frame
func (t *Tracker) Range() beamform.Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.Range
}

// SetRange replaces the sweep range for subsequent frames
func (t *Tracker) SetRange(r beamform.Range) error {
	if err := r.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	t.cfg.Range = r
	t.mu.Unlock()

	t.logger.Info("sweep range updated",
		"start_deg", r.Start,
		"stop_deg", r.Stop,
		"step_deg", r.Step,
	)
	return nil
}

// GetTarget returns the current target angle if confidence is high enough
func (t *Tracker) GetTarget() (angle float64, confidence float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.pollCount == 0 || t.latest.Confidence <= t.cfg.Confidence.Base {
		return 0, 0, false
	}

	return t.latest.SmoothedAngle, t.latest.Confidence, true
}

// Stats returns tracker statistics
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	avgLatency := float64(0)
	if t.pollCount > 0 {
		avgLatency = float64(t.totalLatencyMs) / float64(t.pollCount)
	}

	t.subsMu.RLock()
	subscribers := len(t.subs)
	t.subsMu.RUnlock()

	return TrackerStats{
		PollCount:         t.pollCount,
		ErrorCount:        t.pollErrorCount,
		AvgLatencyMs:      avgLatency,
		HistorySize:       len(t.history),
		SubscriberCount:   subscribers,
		SourceHealthy:     t.source.Healthy(),
		SourceName:        t.source.Name(),
		CurrentAngle:      t.latest.SmoothedAngle,
		CurrentContrast:   t.latest.Contrast,
		CurrentConfidence: t.latest.Confidence,
	}
}

// TrackerStats contains tracker statistics
type TrackerStats struct {
	PollCount         int64   `json:"poll_count"`
	ErrorCount        int64   `json:"error_count"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	HistorySize       int     `json:"history_size"`
	SubscriberCount   int     `json:"subscriber_count"`
	SourceHealthy     bool    `json:"source_healthy"`
	SourceName        string  `json:"source_name"`
	CurrentAngle      float64 `json:"current_angle_deg"`
	CurrentContrast   float64 `json:"current_contrast"`
	CurrentConfidence float64 `json:"current_confidence"`
}

// Stop stops the tracker gracefully. A tracker stopped before Run
// returns from Run immediately.
func (t *Tracker) Stop() {
	t.stopFunc()

	t.mu.RLock()
	started := t.started
	t.mu.RUnlock()
	if started {
		<-t.done
	}

	// Close all subscriber channels
	t.subsMu.Lock()
	for ch := range t.subs {
		close(ch)
		delete(t.subs, ch)
	}
	t.subsMu.Unlock()
}
