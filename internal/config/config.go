package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure returned from Validate.
var ErrInvalid = errors.New("invalid configuration")

// MaxFFTSize bounds fft_size so a display change cannot force huge chunk
// buffers.
const MaxFFTSize = 1 << 16

// Demodulation modes understood by the engine.
const (
	ModeNFM = "nfm"
	ModeWFM = "wfm"
	ModeAM  = "am"
)

// Config holds all the configuration parameters for the application.
type Config struct {
	IQSampleRate      float64 `yaml:"iq_sample_rate"`
	OutputSampleRate  int     `yaml:"output_sample_rate"`
	FFTSize           int     `yaml:"fft_size"`
	AveragingCount    int     `yaml:"averaging_count"`
	WaterfallHeight   int     `yaml:"waterfall_height"`
	MaxChunksPerCycle int     `yaml:"max_chunks_per_cycle"`

	Mode         string  `yaml:"mode"`
	BandwidthHz  float64 `yaml:"bandwidth_hz"`
	TuningOffset float64 `yaml:"tuning_offset"`
	Squelch      float64 `yaml:"squelch"`
	FilterTaps   int     `yaml:"filter_taps"`
	DeemphTau    float64 `yaml:"deemph_tau"`

	AutoScale   bool    `yaml:"auto_scale"`
	ManualMinDB float64 `yaml:"manual_min_db"`
	ManualMaxDB float64 `yaml:"manual_max_db"`

	RingBufferSize  int           `yaml:"ring_buffer_size"`
	MaxQueueBytes   int           `yaml:"max_queue_bytes"`
	PublishInterval time.Duration `yaml:"publish_interval"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`

	Source SourceConfig `yaml:"source"`
	Audio  AudioConfig  `yaml:"audio"`
	UI     UIConfig     `yaml:"ui"`
}

// SourceConfig selects where raw I/Q bytes come from. Exactly one of
// Address and File is expected to be set.
type SourceConfig struct {
	Address string `yaml:"address"`
	File    string `yaml:"file"`
	Pace    bool   `yaml:"pace"` // play recordings at the IQ rate, on by default
	Loop    bool   `yaml:"loop"`
}

// AudioConfig controls the playback sink and the optional recorder.
type AudioConfig struct {
	Enabled bool    `yaml:"enabled"`
	Gain    float64 `yaml:"gain"`
	Record  string  `yaml:"record"`
}

// UIConfig controls the snapshot server.
type UIConfig struct {
	Listen    string        `yaml:"listen"`
	FrameRate time.Duration `yaml:"frame_rate"`
}

// New returns a new Config with default values.
func New() *Config {
	return &Config{
		IQSampleRate:      2_048_000,
		OutputSampleRate:  48_000,
		FFTSize:           4096,
		AveragingCount:    4,
		WaterfallHeight:   256,
		MaxChunksPerCycle: 8,
		Mode:              ModeNFM,
		BandwidthHz:       12_500,
		TuningOffset:      0.5,
		Squelch:           0,
		FilterTaps:        63,
		DeemphTau:         50e-6, // 50us for Europe
		AutoScale:         true,
		ManualMinDB:       -10,
		ManualMaxDB:       70,
		RingBufferSize:    48_000 / 2,
		MaxQueueBytes:     2 * 2_048_000 * 2, // 2s of IQ (I+Q)
		PublishInterval:   33 * time.Millisecond,
		DrainTimeout:      250 * time.Millisecond,
		Source: SourceConfig{
			Pace: true,
		},
		Audio: AudioConfig{
			Enabled: true,
			Gain:    1,
		},
		UI: UIConfig{
			FrameRate: 33 * time.Millisecond,
		},
	}
}

// Load reads a YAML file and overlays it onto the defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent field.
func (c *Config) Validate() error {
	switch {
	case c.IQSampleRate <= 0:
		return fmt.Errorf("%w: iq_sample_rate must be positive, got %v", ErrInvalid, c.IQSampleRate)
	case c.OutputSampleRate <= 0:
		return fmt.Errorf("%w: output_sample_rate must be positive, got %d", ErrInvalid, c.OutputSampleRate)
	case !IsPowerOfTwo(c.FFTSize) || c.FFTSize < 2 || c.FFTSize > MaxFFTSize:
		return fmt.Errorf("%w: fft_size must be a power of two in [2, %d], got %d", ErrInvalid, MaxFFTSize, c.FFTSize)
	case c.AveragingCount < 1:
		return fmt.Errorf("%w: averaging_count must be >= 1, got %d", ErrInvalid, c.AveragingCount)
	case c.WaterfallHeight < 1:
		return fmt.Errorf("%w: waterfall_height must be >= 1, got %d", ErrInvalid, c.WaterfallHeight)
	case c.MaxChunksPerCycle < 1:
		return fmt.Errorf("%w: max_chunks_per_cycle must be >= 1, got %d", ErrInvalid, c.MaxChunksPerCycle)
	case !ValidMode(c.Mode):
		return fmt.Errorf("%w: unknown mode %q", ErrInvalid, c.Mode)
	case c.BandwidthHz <= 0 || c.BandwidthHz >= c.IQSampleRate:
		return fmt.Errorf("%w: bandwidth_hz must be in (0, iq_sample_rate), got %v", ErrInvalid, c.BandwidthHz)
	case c.TuningOffset < 0 || c.TuningOffset > 1:
		return fmt.Errorf("%w: tuning_offset must be in [0,1], got %v", ErrInvalid, c.TuningOffset)
	case c.Squelch < 0 || c.Squelch > 1:
		return fmt.Errorf("%w: squelch must be in [0,1], got %v", ErrInvalid, c.Squelch)
	case c.FilterTaps < 3:
		return fmt.Errorf("%w: filter_taps must be >= 3, got %d", ErrInvalid, c.FilterTaps)
	case c.ManualMinDB >= c.ManualMaxDB:
		return fmt.Errorf("%w: manual_min_db must be below manual_max_db", ErrInvalid)
	case c.RingBufferSize < 1:
		return fmt.Errorf("%w: ring_buffer_size must be >= 1, got %d", ErrInvalid, c.RingBufferSize)
	case c.MaxQueueBytes < 2*c.FFTSize:
		return fmt.Errorf("%w: max_queue_bytes must hold at least one chunk (%d bytes)", ErrInvalid, 2*c.FFTSize)
	case c.Source.Address != "" && c.Source.File != "":
		return fmt.Errorf("%w: source.address and source.file are mutually exclusive", ErrInvalid)
	}
	return nil
}

// ValidMode reports whether mode names a supported demodulator.
func ValidMode(mode string) bool {
	switch mode {
	case ModeNFM, ModeWFM, ModeAM:
		return true
	}
	return false
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
