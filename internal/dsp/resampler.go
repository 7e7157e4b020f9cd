package dsp

// Resampler converts audio between rates by linear interpolation. Input that
// has not been fully consumed, including the fractional read position, is
// carried into the next call so block boundaries are seamless and the long-run
// output count tracks inputs*ratio.
type Resampler struct {
	ratio   float64
	step    float64
	pos     float64
	pending []float32
}

// maxPending bounds the carry-over buffer. In steady state it never holds more
// than a couple of samples.
const maxPending = 1 << 16

// NewResampler returns a resampler producing ratio output samples per input sample.
func NewResampler(ratio float64) *Resampler {
	r := &Resampler{}
	r.SetRatio(ratio)
	return r
}

// SetRatio changes the conversion ratio and drops any carried input.
func (r *Resampler) SetRatio(ratio float64) {
	if ratio <= 0 {
		ratio = 1
	}
	r.ratio = ratio
	r.step = 1 / ratio
	r.Reset()
}

// Ratio returns output rate / input rate.
func (r *Resampler) Ratio() float64 {
	return r.ratio
}

// Reset clears the carry-over state.
func (r *Resampler) Reset() {
	r.pos = 0
	r.pending = r.pending[:0]
}

// Pending returns the number of carried input samples.
func (r *Resampler) Pending() int {
	return len(r.pending)
}

// Process appends the resampled form of in to dst.
func (r *Resampler) Process(dst, in []float32) []float32 {
	r.pending = append(r.pending, in...)

	for {
		i := int(r.pos)
		if i+1 >= len(r.pending) {
			break
		}
		frac := float32(r.pos - float64(i))
		y0, y1 := r.pending[i], r.pending[i+1]
		dst = append(dst, y0+frac*(y1-y0))
		r.pos += r.step
	}

	// Drop the consumed prefix, keeping the fractional position.
	consumed := min(int(r.pos), len(r.pending))
	n := copy(r.pending, r.pending[consumed:])
	r.pending = r.pending[:n]
	r.pos -= float64(consumed)

	if len(r.pending) > maxPending {
		drop := len(r.pending) - maxPending
		n = copy(r.pending, r.pending[drop:])
		r.pending = r.pending[:n]
	}
	return dst
}
