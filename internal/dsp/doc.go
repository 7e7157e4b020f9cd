// Package dsp contains the signal-processing stages of the receiver: 8-bit
// sample conversion, the digital downconverter, the channel filter and
// decimator, demodulators, the audio resampler and the spectral analyzer.
//
// Stages own their state and scratch buffers. None of them are safe for
// concurrent use unless a method says otherwise; the engine drives them from
// a single worker.
package dsp

import "errors"

var (
	// ErrSizeMismatch reports a buffer whose length does not match the
	// configured stage size, typically seen while a reconfiguration is racing
	// with in-flight data.
	ErrSizeMismatch = errors.New("dsp: buffer size mismatch")

	// ErrEmptyInput reports a stage called with nothing to work on.
	ErrEmptyInput = errors.New("dsp: empty input")
)
