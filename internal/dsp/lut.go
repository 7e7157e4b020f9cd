package dsp

import "fmt"

// sampleLUT maps an unsigned 8-bit sample onto [-1, 1].
var sampleLUT = func() (lut [256]float64) {
	for i := range lut {
		lut[i] = (float64(i) - 127.5) / 127.5
	}
	return lut
}()

// ConvertIQ deinterleaves unsigned 8-bit I/Q pairs from src into dst.
// src must hold exactly 2*len(dst) bytes.
func ConvertIQ(dst []complex128, src []byte) error {
	if len(src) != 2*len(dst) {
		return fmt.Errorf("%w: %d bytes for %d samples", ErrSizeMismatch, len(src), len(dst))
	}
	for i := range dst {
		dst[i] = complex(sampleLUT[src[2*i]], sampleLUT[src[2*i+1]])
	}
	return nil
}
