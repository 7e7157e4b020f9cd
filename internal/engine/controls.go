package engine

import (
	"fmt"
	"math"
	"time"

	"go-iq-receiver/internal/config"
	"go-iq-receiver/internal/dsp"
)

// SetTuningOffset moves the VFO. It takes effect from the next chunk without
// draining the pipeline.
func (e *Engine) SetTuningOffset(offset float64) {
	e.vfo.SetTuningOffset(offset)
}

// TuningOffset returns the current VFO position in [0,1].
func (e *Engine) TuningOffset() float64 {
	return e.vfo.TuningOffset()
}

// SetAutoScale switches between automatic and manual display bounds.
func (e *Engine) SetAutoScale(enabled bool) {
	e.autoScale.Store(enabled)
}

// SetManualScale sets the bounds used while auto-scale is off.
func (e *Engine) SetManualScale(minDB, maxDB float64) error {
	if !(minDB < maxDB) {
		return fmt.Errorf("engine: manual scale min %v must be below max %v", minDB, maxDB)
	}
	e.manual.Store(&dsp.Scale{MinDB: minDB, MaxDB: maxDB})
	return nil
}

// SetBandwidth changes the channel bandwidth.
func (e *Engine) SetBandwidth(hz float64) error {
	if !(hz > 0) {
		return fmt.Errorf("engine: bandwidth must be positive, got %v", hz)
	}
	e.update(func(s *Settings) { s.BandwidthHz = hz })
	return nil
}

// SetSquelch sets the squelch level, clamped to [0,1].
func (e *Engine) SetSquelch(level float64) {
	level = math.Max(0, math.Min(1, level))
	e.update(func(s *Settings) { s.Squelch = level })
}

// SetSampleRate tells the engine the I/Q rate of the incoming stream.
func (e *Engine) SetSampleRate(hz float64) error {
	if !(hz > 0) {
		return fmt.Errorf("engine: sample rate must be positive, got %v", hz)
	}
	e.update(func(s *Settings) { s.SampleRateHz = hz })
	return nil
}

// SetMode switches the demodulator.
func (e *Engine) SetMode(mode dsp.Mode) {
	e.update(func(s *Settings) { s.Mode = mode })
}

// UpdateDisplayParameters changes the FFT size, averaging window and
// waterfall depth together.
func (e *Engine) UpdateDisplayParameters(fftSize, averagingCount, waterfallHeight int) error {
	switch {
	case fftSize < 2 || fftSize > config.MaxFFTSize || !config.IsPowerOfTwo(fftSize):
		return fmt.Errorf("engine: fft size must be a power of two in [2, %d], got %d", config.MaxFFTSize, fftSize)
	case averagingCount < 1:
		return fmt.Errorf("engine: averaging count must be >= 1, got %d", averagingCount)
	case waterfallHeight < 1:
		return fmt.Errorf("engine: waterfall height must be >= 1, got %d", waterfallHeight)
	}
	e.update(func(s *Settings) {
		s.FFTSize = fftSize
		s.AveragingCount = averagingCount
		s.WaterfallHeight = waterfallHeight
	})
	return nil
}

// Settings returns the most recently requested settings. They may not have
// reached the pipeline yet.
func (e *Engine) Settings() Settings {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	return e.want
}

// update records a settings change for the worker. Repeating the current
// request is a no-op.
func (e *Engine) update(fn func(*Settings)) {
	e.settingsMu.Lock()
	next := e.want
	fn(&next)
	if next == e.want {
		e.settingsMu.Unlock()
		return
	}
	e.want = next
	if !e.reconfigure.Swap(true) {
		e.requestedAt = time.Now()
	}
	e.settingsMu.Unlock()

	e.schedule()
}
