package dsp

import (
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"
)

// powerFloor keeps log10 away from zero.
const powerFloor = 1e-10

// MaxFFTSize is the largest transform NewAnalyzer accepts.
const MaxFFTSize = 1 << 16

// Analyzer computes power spectra of fixed-size complex chunks and keeps a
// bounded window of recent frames for averaging.
//
// All buffers are sized at construction; a different FFT size or averaging
// count needs a new Analyzer.
type Analyzer struct {
	size int
	plan *algofft.Plan[complex128]

	out   []complex128
	re    []float64
	im    []float64
	power []float64

	// Averaging window: raw (unshifted) dB frames, oldest overwritten first.
	frames [][]float64
	next   int
	count  int
}

// NewAnalyzer builds an FFT plan of size points and an averaging window of
// averaging frames.
func NewAnalyzer(size, averaging int) (*Analyzer, error) {
	if size < 2 || size > MaxFFTSize || size&(size-1) != 0 {
		return nil, fmt.Errorf("dsp: fft size must be a power of two in [2, %d], got %d", MaxFFTSize, size)
	}
	if averaging < 1 {
		return nil, fmt.Errorf("dsp: averaging count must be >= 1, got %d", averaging)
	}

	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, fmt.Errorf("dsp: create fft plan: %w", err)
	}

	a := &Analyzer{
		size:   size,
		plan:   plan,
		out:    make([]complex128, size),
		re:     make([]float64, size),
		im:     make([]float64, size),
		power:  make([]float64, size),
		frames: make([][]float64, averaging),
	}
	for i := range a.frames {
		a.frames[i] = make([]float64, size)
	}
	return a, nil
}

// Size returns the FFT size.
func (a *Analyzer) Size() int { return a.size }

// Averaging returns the capacity of the averaging window.
func (a *Analyzer) Averaging() int { return len(a.frames) }

// Frames returns how many frames the averaging window currently holds.
func (a *Analyzer) Frames() int { return a.count }

// Analyze transforms chunk and pushes its dB spectrum into the averaging
// window, evicting the oldest frame when full. The stored frame is in natural
// FFT order (DC first).
func (a *Analyzer) Analyze(chunk []complex128) error {
	if len(chunk) == 0 {
		return ErrEmptyInput
	}
	if len(chunk) != a.size {
		return fmt.Errorf("%w: analyzer size %d, chunk %d", ErrSizeMismatch, a.size, len(chunk))
	}

	if err := a.plan.Forward(a.out, chunk); err != nil {
		return fmt.Errorf("dsp: forward fft: %w", err)
	}

	for i, x := range a.out {
		a.re[i] = real(x)
		a.im[i] = imag(x)
	}
	vecmath.Power(a.power, a.re, a.im)

	frame := a.frames[a.next]
	for i, p := range a.power {
		// 0 dB is a power of 1.0.
		frame[i] = 10 * math.Log10(p+powerFloor)
	}

	a.next = (a.next + 1) % len(a.frames)
	if a.count < len(a.frames) {
		a.count++
	}
	return nil
}

// Average writes the element-wise mean of the averaging window into dst, in
// natural FFT order.
func (a *Analyzer) Average(dst []float64) error {
	if len(dst) != a.size {
		return fmt.Errorf("%w: analyzer size %d, dst %d", ErrSizeMismatch, a.size, len(dst))
	}
	if a.count == 0 {
		return ErrEmptyInput
	}

	clear(dst)
	for i := range a.count {
		vecmath.AddBlockInPlace(dst, a.frames[i])
	}
	vecmath.ScaleBlock(dst, dst, 1/float64(a.count))
	return nil
}

// Reset empties the averaging window.
func (a *Analyzer) Reset() {
	a.next = 0
	a.count = 0
}

// FFTShift writes src into dst with the upper half first, so index 0 is the
// most negative frequency. dst and src must have the same even length and
// must not overlap.
func FFTShift(dst, src []float64) error {
	if len(dst) != len(src) {
		return fmt.Errorf("%w: shift dst %d, src %d", ErrSizeMismatch, len(dst), len(src))
	}
	half := len(src) / 2
	copy(dst, src[half:])
	copy(dst[len(src)-half:], src[:half])
	return nil
}

// Scale is a pair of display bounds in dB.
type Scale struct {
	MinDB float64 `json:"minDb"`
	MaxDB float64 `json:"maxDb"`
}

// SmoothingFactor is the weight given to each new frame by the AutoScaler.
const SmoothingFactor = 0.05

// AutoScaler tracks the min/max of published frames with exponential smoothing.
type AutoScaler struct {
	state Scale
}

// NewAutoScaler starts tracking from initial.
func NewAutoScaler(initial Scale) *AutoScaler {
	return &AutoScaler{state: initial}
}

// Update moves the state towards the min and max of frame and returns it.
func (s *AutoScaler) Update(frame []float64) Scale {
	if len(frame) == 0 {
		return s.state
	}
	lo, hi := frame[0], frame[0]
	for _, v := range frame[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	s.state.MinDB += SmoothingFactor * (lo - s.state.MinDB)
	s.state.MaxDB += SmoothingFactor * (hi - s.state.MaxDB)
	return s.state
}

// State returns the current bounds.
func (s *AutoScaler) State() Scale {
	return s.state
}
