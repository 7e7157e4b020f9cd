package dsp

import (
	"math"
)

// DesignFIRLowPass creates a low-pass FIR filter using the windowed-sinc method
// with a Blackman window. cutoff is normalized to the sample rate and clamped
// to (0, 0.5). An even numTaps is bumped to the next odd value so the filter
// has an integer group delay. The taps sum to 1 (unit DC gain).
func DesignFIRLowPass(numTaps int, cutoff float64) []float64 {
	if numTaps < 1 {
		numTaps = 1
	}
	if numTaps%2 == 0 {
		numTaps++
	}
	cutoff = math.Max(1e-6, math.Min(0.5, cutoff))

	taps := make([]float64, numTaps)
	if numTaps == 1 {
		taps[0] = 1
		return taps
	}

	M := float64(numTaps - 1)
	fc := cutoff * 2 // relative to Nyquist
	for n := range taps {
		x := float64(n) - M/2
		if x == 0 {
			taps[n] = fc
		} else {
			taps[n] = math.Sin(math.Pi*fc*x) / (math.Pi * x)
		}
		w := 0.42 - 0.5*math.Cos(2*math.Pi*float64(n)/M) + 0.08*math.Cos(4*math.Pi*float64(n)/M)
		taps[n] *= w
	}

	sum := 0.0
	for _, t := range taps {
		sum += t
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

// DecimationFactor returns floor(sampleRate/targetRate), never less than 1.
func DecimationFactor(sampleRate, targetRate float64) int {
	if targetRate <= 0 || sampleRate <= targetRate {
		return 1
	}
	return int(math.Floor(sampleRate / targetRate))
}

// ChannelFilter is a stateful complex FIR low-pass followed by integer
// decimation. It keeps the last len(taps)-1 input samples and the decimation
// phase between blocks, so feeding a stream in pieces gives the same output as
// feeding it whole.
type ChannelFilter struct {
	numTaps int
	taps    []float64
	factor  int
	skip    int
	work    []complex128
}

// NewChannelFilter designs a filter passing bandwidthHz (two-sided) at
// sampleRateHz and decimating towards targetRate.
func NewChannelFilter(numTaps int, bandwidthHz, sampleRateHz, targetRate float64) *ChannelFilter {
	f := &ChannelFilter{numTaps: numTaps}
	f.Configure(bandwidthHz, sampleRateHz, targetRate)
	return f
}

// Configure regenerates the kernel and decimation factor together and clears
// the filter history.
func (f *ChannelFilter) Configure(bandwidthHz, sampleRateHz, targetRate float64) {
	f.taps = DesignFIRLowPass(f.numTaps, bandwidthHz/2/sampleRateHz)
	f.factor = DecimationFactor(sampleRateHz, targetRate)
	f.Reset()
}

// Reset clears the filter history and decimation phase.
func (f *ChannelFilter) Reset() {
	f.skip = 0
	f.work = f.work[:0]
	for range len(f.taps) - 1 {
		f.work = append(f.work, 0)
	}
}

// Taps returns the current kernel. Callers must not modify it.
func (f *ChannelFilter) Taps() []float64 {
	return f.taps
}

// Factor returns the decimation factor.
func (f *ChannelFilter) Factor() int {
	return f.factor
}

// OutputLen returns how many samples the next Process call will produce for
// an input of n samples.
func (f *ChannelFilter) OutputLen(n int) int {
	if n <= f.skip {
		return 0
	}
	return (n-f.skip-1)/f.factor + 1
}

// Filter convolves src with the kernel and appends len(src) samples to dst.
// It does not advance the decimation phase.
func (f *ChannelFilter) Filter(dst, src []complex128) []complex128 {
	hist := f.load(src)
	for i := range src {
		dst = append(dst, f.dot(i))
	}
	f.store(hist, len(src))
	return dst
}

// Decimate appends every factor-th sample of src to dst, continuing the
// decimation phase from the previous call.
func (f *ChannelFilter) Decimate(dst, src []complex128) []complex128 {
	i := f.skip
	for ; i < len(src); i += f.factor {
		dst = append(dst, src[i])
	}
	f.skip = i - len(src)
	return dst
}

// Process filters and decimates src, appending the result to dst. Only the
// samples that survive decimation are computed.
func (f *ChannelFilter) Process(dst, src []complex128) []complex128 {
	hist := f.load(src)
	i := f.skip
	for ; i < len(src); i += f.factor {
		dst = append(dst, f.dot(i))
	}
	f.skip = i - len(src)
	f.store(hist, len(src))
	return dst
}

// load appends src after the stored history and returns the history length.
func (f *ChannelFilter) load(src []complex128) int {
	hist := len(f.taps) - 1
	f.work = append(f.work[:hist], src...)
	return hist
}

// store keeps the last hist samples of the work buffer for the next block.
func (f *ChannelFilter) store(hist, n int) {
	copy(f.work, f.work[n:n+hist])
	f.work = f.work[:hist]
}

// dot returns output sample i of the current block: sum of taps[k]*x[i-k].
func (f *ChannelFilter) dot(i int) complex128 {
	newest := i + len(f.taps) - 1
	var re, im float64
	for k, t := range f.taps {
		x := f.work[newest-k]
		re += t * real(x)
		im += t * imag(x)
	}
	return complex(re, im)
}
