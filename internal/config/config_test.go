package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receiver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNew_DefaultsAreValid(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4096, cfg.FFTSize)
	assert.Equal(t, ModeNFM, cfg.Mode)
	assert.True(t, cfg.AutoScale)
	assert.True(t, cfg.Source.Pace)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
fft_size: 2048
mode: " WFM "
bandwidth_hz: 200000
publish_interval: 50ms
source:
  address: "127.0.0.1:1234"
ui:
  listen: ":8073"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.FFTSize)
	assert.Equal(t, ModeWFM, cfg.Mode)
	assert.Equal(t, 200_000.0, cfg.BandwidthHz)
	assert.Equal(t, 50*time.Millisecond, cfg.PublishInterval)
	assert.Equal(t, "127.0.0.1:1234", cfg.Source.Address)
	assert.Equal(t, ":8073", cfg.UI.Listen)

	// Untouched fields keep their defaults.
	assert.Equal(t, 48_000, cfg.OutputSampleRate)
	assert.Equal(t, 256, cfg.WaterfallHeight)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "fft_size: [1, 2"))
	require.Error(t, err)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "fft_size: 1000\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fft not power of two", func(c *Config) { c.FFTSize = 3000 }},
		{"fft too small", func(c *Config) { c.FFTSize = 1 }},
		{"fft too large", func(c *Config) {
			c.FFTSize = 2 * MaxFFTSize
			c.MaxQueueBytes = 8 * MaxFFTSize
		}},
		{"zero averaging", func(c *Config) { c.AveragingCount = 0 }},
		{"zero waterfall", func(c *Config) { c.WaterfallHeight = 0 }},
		{"unknown mode", func(c *Config) { c.Mode = "ssb" }},
		{"bandwidth above rate", func(c *Config) { c.BandwidthHz = c.IQSampleRate }},
		{"offset out of range", func(c *Config) { c.TuningOffset = 1.5 }},
		{"squelch out of range", func(c *Config) { c.Squelch = -0.1 }},
		{"inverted manual scale", func(c *Config) { c.ManualMinDB = 80 }},
		{"queue smaller than a chunk", func(c *Config) { c.MaxQueueBytes = 100 }},
		{"two sources", func(c *Config) {
			c.Source.Address = "localhost:1234"
			c.Source.File = "capture.cu8"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, n := range []int{1, 2, 4, 1024, 65536} {
		assert.True(t, IsPowerOfTwo(n), n)
	}
	for _, n := range []int{0, -4, 3, 1000, 4097} {
		assert.False(t, IsPowerOfTwo(n), n)
	}
}
