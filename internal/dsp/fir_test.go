package dsp

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func complexRamp(n int) []complex128 {
	out := make([]complex128, n)
	for i := range out {
		out[i] = complex(float64(i), -float64(i)/2)
	}
	return out
}

func tone(n int, cyclesPerSample, amplitude float64) []complex128 {
	out := make([]complex128, n)
	for i := range out {
		out[i] = cmplx.Rect(amplitude, 2*math.Pi*cyclesPerSample*float64(i))
	}
	return out
}

func requireComplexNear(t *testing.T, want, got []complex128, eps float64) {
	t.Helper()
	require.Equal(t, len(want), len(got), "length")
	for i := range want {
		if cmplx.Abs(want[i]-got[i]) > eps {
			t.Fatalf("index %d: want %v, got %v", i, want[i], got[i])
		}
	}
}

// TestDesignFIRLowPass checks the properties of the generated FIR filter.
func TestDesignFIRLowPass(t *testing.T) {
	const numTaps = 51
	const cutoff = 0.1

	taps := DesignFIRLowPass(numTaps, cutoff)
	require.Len(t, taps, numTaps)

	// Symmetric taps give a linear-phase filter.
	for i := 0; i < numTaps/2; i++ {
		if !almostEqual(float32(taps[i]), float32(taps[numTaps-1-i])) {
			t.Errorf("Filter is not symmetric. Tap %d (%f) != Tap %d (%f)", i, taps[i], numTaps-1-i, taps[numTaps-1-i])
		}
	}

	var sum float64
	for _, tap := range taps {
		sum += tap
	}
	assert.InDelta(t, 1.0, sum, 1e-12, "unit DC gain")

	// The centre tap dominates.
	for i, tap := range taps {
		assert.LessOrEqual(t, tap, taps[numTaps/2], "tap %d", i)
	}
}

func TestDesignFIRLowPass_ForcesOddLength(t *testing.T) {
	assert.Len(t, DesignFIRLowPass(64, 0.1), 65)
	assert.Equal(t, []float64{1}, DesignFIRLowPass(0, 0.1))
}

func TestDecimationFactor(t *testing.T) {
	assert.Equal(t, 51, DecimationFactor(2_048_000, 40_000))
	assert.Equal(t, 10, DecimationFactor(2_048_000, 200_000))
	assert.Equal(t, 1, DecimationFactor(30_000, 40_000))
	assert.Equal(t, 1, DecimationFactor(48_000, 0))
}

func TestChannelFilter_StreamingMatchesWhole(t *testing.T) {
	input := complexRamp(300)

	whole := NewChannelFilter(31, 20_000, 200_000, 200_000)
	want := whole.Filter(nil, input)
	require.Len(t, want, len(input), "same-length output")

	chunked := NewChannelFilter(31, 20_000, 200_000, 200_000)
	var got []complex128
	for _, n := range []int{7, 100, 1, 64, 128} {
		got = chunked.Filter(got, input[:n])
		input = input[n:]
	}
	requireComplexNear(t, want, got, 1e-9)
}

func TestChannelFilter_ProcessEqualsFilterThenDecimate(t *testing.T) {
	input := complexRamp(1000)

	separate := NewChannelFilter(21, 10_000, 100_000, 20_000)
	require.Equal(t, 5, separate.Factor())
	want := separate.Decimate(nil, separate.Filter(nil, input))

	fused := NewChannelFilter(21, 10_000, 100_000, 20_000)
	var got []complex128
	// Block sizes that are not multiples of the factor exercise the carried
	// decimation phase.
	for _, n := range []int{13, 250, 3, 333, 401} {
		before := len(got)
		expect := fused.OutputLen(n)
		got = fused.Process(got, input[:n])
		assert.Equal(t, expect, len(got)-before)
		input = input[n:]
	}
	requireComplexNear(t, want, got, 1e-9)
	assert.Len(t, want, 200)
}

func TestChannelFilter_PassesDCRejectsOutOfBand(t *testing.T) {
	const n = 2000
	f := NewChannelFilter(63, 12_500, 250_000, 250_000)

	dc := f.Filter(nil, tone(n, 0, 0.5))
	assert.InDelta(t, 0.5, real(dc[n-1]), 1e-9)
	assert.InDelta(t, 0, imag(dc[n-1]), 1e-9)

	f.Reset()
	out := f.Filter(nil, tone(n, 0.3, 1))
	// Skip the filter warm-up.
	var peak float64
	for _, x := range out[200:] {
		peak = math.Max(peak, cmplx.Abs(x))
	}
	assert.Less(t, peak, 1e-3, "tone far outside the passband should be attenuated")
}

func TestChannelFilter_ConfigureResetsState(t *testing.T) {
	f := NewChannelFilter(15, 10_000, 100_000, 50_000)
	f.Process(nil, complexRamp(11))

	f.Configure(20_000, 200_000, 40_000)
	assert.Equal(t, 5, f.Factor())
	assert.Len(t, f.Taps(), 15)

	fresh := NewChannelFilter(15, 20_000, 200_000, 40_000)
	input := complexRamp(40)
	requireComplexNear(t, fresh.Process(nil, input), f.Process(nil, input), 1e-12)
}
