package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func argmax(x []float64) int {
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}
	return best
}

func TestNewAnalyzer_RejectsBadSizes(t *testing.T) {
	_, err := NewAnalyzer(1000, 1)
	assert.Error(t, err)
	_, err = NewAnalyzer(1, 1)
	assert.Error(t, err)
	_, err = NewAnalyzer(1024, 0)
	assert.Error(t, err)
	_, err = NewAnalyzer(2*MaxFFTSize, 1)
	assert.Error(t, err)
}

func TestAnalyzer_ToneLandsInExpectedBin(t *testing.T) {
	const size = 4096
	a, err := NewAnalyzer(size, 1)
	require.NoError(t, err)

	for _, bin := range []int{0, 100, 1500, -700, -2047} {
		require.NoError(t, a.Analyze(tone(size, float64(bin)/size, 0.9)))

		avg := make([]float64, size)
		require.NoError(t, a.Average(avg))
		shifted := make([]float64, size)
		require.NoError(t, FFTShift(shifted, avg))

		want := bin + size/2
		got := argmax(shifted)
		assert.InDelta(t, want, got, 1, "tone at bin %d", bin)

		// An exact bin tone puts all its energy there: (0.9*4096)^2.
		assert.InDelta(t, 10*math.Log10(math.Pow(0.9*size, 2)), shifted[got], 1e-6)
	}
}

func TestAnalyzer_SilenceHitsPowerFloor(t *testing.T) {
	a, err := NewAnalyzer(64, 1)
	require.NoError(t, err)
	require.NoError(t, a.Analyze(make([]complex128, 64)))

	avg := make([]float64, 64)
	require.NoError(t, a.Average(avg))
	for _, v := range avg {
		assert.InDelta(t, -100, v, 1e-9)
	}
}

func TestAnalyzer_AveragingWindow(t *testing.T) {
	const size = 8
	a, err := NewAnalyzer(size, 2)
	require.NoError(t, err)

	avg := make([]float64, size)
	assert.ErrorIs(t, a.Average(avg), ErrEmptyInput)

	// DC of amplitude A gives a DC bin power of (A*size)^2.
	dc := func(amp float64) []complex128 { return tone(size, 0, amp) }
	db := func(amp float64) float64 { return 10 * math.Log10(math.Pow(amp*size, 2)+powerFloor) }

	require.NoError(t, a.Analyze(dc(1)))
	require.NoError(t, a.Analyze(dc(0.5)))
	require.NoError(t, a.Average(avg))
	assert.InDelta(t, (db(1)+db(0.5))/2, avg[0], 1e-9)
	assert.Equal(t, 2, a.Frames())

	// A third frame evicts the first.
	require.NoError(t, a.Analyze(dc(0.25)))
	require.NoError(t, a.Average(avg))
	assert.InDelta(t, (db(0.5)+db(0.25))/2, avg[0], 1e-9)
	assert.Equal(t, 2, a.Frames())

	a.Reset()
	assert.ErrorIs(t, a.Average(avg), ErrEmptyInput)
}

func TestAnalyzer_SizeMismatchIsSoft(t *testing.T) {
	a, err := NewAnalyzer(16, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, a.Analyze(make([]complex128, 8)), ErrSizeMismatch)
	assert.ErrorIs(t, a.Analyze(nil), ErrEmptyInput)
	assert.ErrorIs(t, a.Average(make([]float64, 8)), ErrSizeMismatch)
	assert.Zero(t, a.Frames())
}

func TestFFTShift(t *testing.T) {
	dst := make([]float64, 6)
	require.NoError(t, FFTShift(dst, []float64{0, 1, 2, 3, 4, 5}))
	assert.Equal(t, []float64{3, 4, 5, 0, 1, 2}, dst)

	assert.ErrorIs(t, FFTShift(dst, make([]float64, 4)), ErrSizeMismatch)
}

func TestFFTShift_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		half := rapid.IntRange(0, 512).Draw(t, "half")
		x := rapid.SliceOfN(rapid.Float64(), 2*half, 2*half).Draw(t, "x")

		once := make([]float64, len(x))
		twice := make([]float64, len(x))
		if err := FFTShift(once, x); err != nil {
			t.Fatal(err)
		}
		if err := FFTShift(twice, once); err != nil {
			t.Fatal(err)
		}
		for i := range x {
			if math.Float64bits(twice[i]) != math.Float64bits(x[i]) {
				t.Fatalf("index %d: %v != %v", i, twice[i], x[i])
			}
		}
	})
}

func TestAutoScaler(t *testing.T) {
	s := NewAutoScaler(Scale{MinDB: 0, MaxDB: 100})

	got := s.Update([]float64{-10, 3, 10})
	assert.InDelta(t, -0.5, got.MinDB, 1e-12)
	assert.InDelta(t, 95.5, got.MaxDB, 1e-12)
	assert.Equal(t, got, s.State())

	// Repeated frames converge on the frame bounds.
	for range 500 {
		s.Update([]float64{-10, 10})
	}
	assert.InDelta(t, -10, s.State().MinDB, 1e-6)
	assert.InDelta(t, 10, s.State().MaxDB, 1e-6)

	assert.Equal(t, s.State(), s.Update(nil))
}

func TestWaterfall(t *testing.T) {
	w := NewWaterfall(3)
	assert.Equal(t, 3, w.Cap())
	assert.Empty(t, w.Rows(nil))

	row := func(v float64) []float64 { return []float64{v} }
	w.Push(row(1))
	w.Push(row(2))
	assert.Equal(t, [][]float64{{2}, {1}}, w.Rows(nil))

	w.Push(row(3))
	w.Push(row(4))
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, [][]float64{{4}, {3}, {2}}, w.Rows(nil))

	assert.Equal(t, 1, NewWaterfall(0).Cap())
}
