// Package config provides configuration management for go-das
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-das/internal/beamform"
	"github.com/teslashibe/go-das/internal/doa"
	"github.com/teslashibe/go-das/internal/synth"
	"github.com/teslashibe/go-das/internal/uplink"
)

// Source types
const (
	SourceSynthetic = "synthetic"
	SourcePCM       = "pcm"
)

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Array   ArrayConfig   `mapstructure:"array"`
	Sweep   SweepConfig   `mapstructure:"sweep"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Source  SourceConfig  `mapstructure:"source"`
	Uplink  UplinkConfig  `mapstructure:"uplink"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	BodyLimit       int           `mapstructure:"body_limit"` // bytes
}

// ArrayConfig describes the linear microphone array
type ArrayConfig struct {
	MicSpacing   float64 `mapstructure:"mic_spacing"` // meters
	MicCount     int     `mapstructure:"mic_count"`
	SpeedOfSound float64 `mapstructure:"speed_of_sound"` // m/s
	SampleRate   float64 `mapstructure:"sample_rate"`    // Hz
}

// SweepConfig configures the steering sweep
type SweepConfig struct {
	Start   float64 `mapstructure:"start"`
	Stop    float64 `mapstructure:"stop"`
	Step    float64 `mapstructure:"step"`
	Workers int     `mapstructure:"workers"`
}

// TrackerConfig configures DOA tracking
type TrackerConfig struct {
	PollHz      int     `mapstructure:"poll_hz"`
	EMAAlpha    float64 `mapstructure:"ema_alpha"`
	HistorySize int     `mapstructure:"history_size"`

	Confidence ConfidenceConfig `mapstructure:"confidence"`
}

// ConfidenceConfig configures confidence scoring
type ConfidenceConfig struct {
	Base           float64 `mapstructure:"base"`
	ContrastBonus  float64 `mapstructure:"contrast_bonus"`
	StabilityBonus float64 `mapstructure:"stability_bonus"`
	MinContrast    float64 `mapstructure:"min_contrast"`
}

// SourceConfig selects and configures the frame source
type SourceConfig struct {
	Type string `mapstructure:"type"` // synthetic, pcm

	// pcm
	Path         string `mapstructure:"path"` // "-" reads stdin
	FrameSamples int    `mapstructure:"frame_samples"`

	// synthetic
	AngleDeg float64 `mapstructure:"angle_deg"`
	Samples  int     `mapstructure:"samples"`
	Waveform string  `mapstructure:"waveform"`
	Period   int     `mapstructure:"period"`
	ToneHz   float64 `mapstructure:"tone_hz"`
	Noise    float64 `mapstructure:"noise"`
	Wave     bool    `mapstructure:"wave"`
	Seed     int64   `mapstructure:"seed"`
}

// UplinkConfig configures the optional collector connection
type UplinkConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	SendSweeps       bool          `mapstructure:"send_sweeps"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
			BodyLimit:       32 << 20,
		},
		Array: ArrayConfig{
			MicSpacing:   0.05,
			MicCount:     4,
			SpeedOfSound: beamform.DefaultSpeedOfSound,
			SampleRate:   beamform.DefaultSampleRate,
		},
		Sweep: SweepConfig{
			Start:   -90,
			Stop:    90,
			Step:    1,
			Workers: 1,
		},
		Tracker: TrackerConfig{
			PollHz:      10,
			EMAAlpha:    0.3,
			HistorySize: 100,
			Confidence: ConfidenceConfig{
				Base:           0.3,
				ContrastBonus:  0.4,
				StabilityBonus: 0.2,
				MinContrast:    1.5,
			},
		},
		Source: SourceConfig{
			Type:         SourceSynthetic,
			FrameSamples: 4096,
			AngleDeg:     30,
			Samples:      4096,
			Waveform:     synth.WaveformImpulse,
			Period:       256,
			ToneHz:       1000,
			Seed:         1,
		},
		Uplink: UplinkConfig{
			URL:              "ws://localhost:8080/ws/array",
			ReconnectBackoff: 1 * time.Second,
			MaxBackoff:       30 * time.Second,
			PingInterval:     10 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				// Only warn, don't fail - we have defaults
				fmt.Printf("Warning: config file not found at %s, using defaults\n", path)
			}
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("GODAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.graceful_timeout", d.Server.GracefulTimeout)
	v.SetDefault("server.body_limit", d.Server.BodyLimit)

	v.SetDefault("array.mic_spacing", d.Array.MicSpacing)
	v.SetDefault("array.mic_count", d.Array.MicCount)
	v.SetDefault("array.speed_of_sound", d.Array.SpeedOfSound)
	v.SetDefault("array.sample_rate", d.Array.SampleRate)

	v.SetDefault("sweep.start", d.Sweep.Start)
	v.SetDefault("sweep.stop", d.Sweep.Stop)
	v.SetDefault("sweep.step", d.Sweep.Step)
	v.SetDefault("sweep.workers", d.Sweep.Workers)

	v.SetDefault("tracker.poll_hz", d.Tracker.PollHz)
	v.SetDefault("tracker.ema_alpha", d.Tracker.EMAAlpha)
	v.SetDefault("tracker.history_size", d.Tracker.HistorySize)
	v.SetDefault("tracker.confidence.base", d.Tracker.Confidence.Base)
	v.SetDefault("tracker.confidence.contrast_bonus", d.Tracker.Confidence.ContrastBonus)
	v.SetDefault("tracker.confidence.stability_bonus", d.Tracker.Confidence.StabilityBonus)
	v.SetDefault("tracker.confidence.min_contrast", d.Tracker.Confidence.MinContrast)

	v.SetDefault("source.type", d.Source.Type)
	v.SetDefault("source.path", d.Source.Path)
	v.SetDefault("source.frame_samples", d.Source.FrameSamples)
	v.SetDefault("source.angle_deg", d.Source.AngleDeg)
	v.SetDefault("source.samples", d.Source.Samples)
	v.SetDefault("source.waveform", d.Source.Waveform)
	v.SetDefault("source.period", d.Source.Period)
	v.SetDefault("source.tone_hz", d.Source.ToneHz)
	v.SetDefault("source.noise", d.Source.Noise)
	v.SetDefault("source.wave", d.Source.Wave)
	v.SetDefault("source.seed", d.Source.Seed)

	v.SetDefault("uplink.enabled", d.Uplink.Enabled)
	v.SetDefault("uplink.url", d.Uplink.URL)
	v.SetDefault("uplink.reconnect_backoff", d.Uplink.ReconnectBackoff)
	v.SetDefault("uplink.max_backoff", d.Uplink.MaxBackoff)
	v.SetDefault("uplink.ping_interval", d.Uplink.PingInterval)
	v.SetDefault("uplink.write_timeout", d.Uplink.WriteTimeout)
	v.SetDefault("uplink.send_sweeps", d.Uplink.SendSweeps)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if err := c.Geometry().Validate(); err != nil {
		return fmt.Errorf("array: %w", err)
	}

	if err := c.Range().Validate(); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	if c.Sweep.Workers < 1 {
		return fmt.Errorf("sweep workers must be at least 1, got %d", c.Sweep.Workers)
	}

	if c.Tracker.PollHz < 1 || c.Tracker.PollHz > 100 {
		return fmt.Errorf("poll_hz must be between 1 and 100, got %d", c.Tracker.PollHz)
	}

	if c.Tracker.EMAAlpha < 0 || c.Tracker.EMAAlpha > 1 {
		return fmt.Errorf("ema_alpha must be between 0 and 1, got %f", c.Tracker.EMAAlpha)
	}

	if c.Tracker.HistorySize < 0 {
		return fmt.Errorf("history_size must not be negative, got %d", c.Tracker.HistorySize)
	}

	switch c.Source.Type {
	case SourceSynthetic:
	case SourcePCM:
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for pcm sources")
		}
		if c.Source.FrameSamples < 1 {
			return fmt.Errorf("source.frame_samples must be positive, got %d", c.Source.FrameSamples)
		}
	default:
		return fmt.Errorf("unknown source type %q", c.Source.Type)
	}

	if c.Uplink.Enabled && c.Uplink.URL == "" {
		return fmt.Errorf("uplink.url is required when uplink is enabled")
	}

	return nil
}

// Geometry returns the array geometry
func (c *Config) Geometry() beamform.Geometry {
	return beamform.Geometry{
		MicSpacing:   c.Array.MicSpacing,
		MicCount:     c.Array.MicCount,
		SpeedOfSound: c.Array.SpeedOfSound,
		SampleRate:   c.Array.SampleRate,
	}
}

// Range returns the configured sweep range
func (c *Config) Range() beamform.Range {
	return beamform.Range{Start: c.Sweep.Start, Stop: c.Sweep.Stop, Step: c.Sweep.Step}
}

// TrackerConfig converts the tracker section for doa.NewTracker
func (c *Config) TrackerConfig() doa.TrackerConfig {
	return doa.TrackerConfig{
		PollInterval: time.Second / time.Duration(c.Tracker.PollHz),
		EMAAlpha:     c.Tracker.EMAAlpha,
		HistorySize:  c.Tracker.HistorySize,
		Range:        c.Range(),
		Confidence: doa.ConfidenceConfig{
			Base:           c.Tracker.Confidence.Base,
			ContrastBonus:  c.Tracker.Confidence.ContrastBonus,
			StabilityBonus: c.Tracker.Confidence.StabilityBonus,
			MinContrast:    c.Tracker.Confidence.MinContrast,
		},
	}
}

// SynthConfig converts the source section for synth.NewSource
func (c *Config) SynthConfig() synth.Config {
	return synth.Config{
		AngleDeg:    c.Source.AngleDeg,
		Samples:     c.Source.Samples,
		Waveform:    c.Source.Waveform,
		Period:      c.Source.Period,
		ToneHz:      c.Source.ToneHz,
		NoiseStdDev: c.Source.Noise,
		Wave:        c.Source.Wave,
		Seed:        c.Source.Seed,
	}
}

// UplinkConfig converts the uplink section for uplink.NewClient
func (c *Config) UplinkConfig() uplink.Config {
	return uplink.Config{
		URL:              c.Uplink.URL,
		ReconnectBackoff: c.Uplink.ReconnectBackoff,
		MaxBackoff:       c.Uplink.MaxBackoff,
		PingInterval:     c.Uplink.PingInterval,
		WriteTimeout:     c.Uplink.WriteTimeout,
		SendSweeps:       c.Uplink.SendSweeps,
	}
}
