package dsp

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Downconverter is the VFO: it mixes the input with a rotating unit phasor so
// the signal sitting at the tuning offset ends up at 0 Hz.
//
// The tuning offset is a position in the captured band, 0 being the lowest
// frequency (-fs/2) and 1 the highest (+fs/2). SetTuningOffset may be called
// from any goroutine; Shift must only be called by the owner of the stream.
type Downconverter struct {
	offset    atomic.Uint64 // float64 bits
	increment atomic.Uint64 // float64 bits, radians per sample
	phase     float64
}

// NewDownconverter returns a VFO tuned to offset with a zero phase accumulator.
func NewDownconverter(offset float64) *Downconverter {
	d := &Downconverter{}
	d.SetTuningOffset(offset)
	return d
}

// SetTuningOffset clamps offset to [0,1] and updates the phase increment.
// The phase accumulator is left alone so retuning never glitches.
func (d *Downconverter) SetTuningOffset(offset float64) {
	offset = math.Max(0, math.Min(1, offset))
	d.offset.Store(math.Float64bits(offset))
	d.increment.Store(math.Float64bits((offset - 0.5) * 2 * math.Pi))
}

// TuningOffset returns the clamped offset last set.
func (d *Downconverter) TuningOffset() float64 {
	return math.Float64frombits(d.offset.Load())
}

// PhaseIncrement returns the per-sample phase step in radians.
func (d *Downconverter) PhaseIncrement() float64 {
	return math.Float64frombits(d.increment.Load())
}

// Phase returns the accumulator, always within [0, 2π).
func (d *Downconverter) Phase() float64 {
	return d.phase
}

// Shift writes src translated by the current increment into dst. dst and src
// may be the same slice.
func (d *Downconverter) Shift(dst, src []complex128) error {
	if len(dst) != len(src) {
		return fmt.Errorf("%w: vfo dst %d, src %d", ErrSizeMismatch, len(dst), len(src))
	}
	inc := d.PhaseIncrement()
	for i, x := range src {
		sin, cos := math.Sincos(d.phase + float64(i)*inc)
		dst[i] = x * complex(cos, -sin)
	}
	// The accumulator now holds the phase of the next sample, not the last one.
	d.phase = wrapPhase(d.phase + float64(len(src))*inc)
	return nil
}

func wrapPhase(p float64) float64 {
	p = math.Mod(p, 2*math.Pi)
	if p < 0 {
		p += 2 * math.Pi
	}
	if p >= 2*math.Pi {
		p = 0
	}
	return p
}
