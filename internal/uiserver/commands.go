package uiserver

import (
	"errors"
	"fmt"

	"go-iq-receiver/internal/dsp"
	"go-iq-receiver/internal/engine"
)

// ErrUnknownCommand is returned for a command type the server does not handle.
var ErrUnknownCommand = errors.New("uiserver: unknown command")

// Receiver is the part of the engine the UI reads and controls.
type Receiver interface {
	Spectrum() engine.SpectrumSnapshot
	Waterfall() engine.WaterfallSnapshot
	Scale() engine.ScaleSnapshot
	Settings() engine.Settings
	Stats() engine.Stats
	TuningOffset() float64

	SetTuningOffset(offset float64)
	SetBandwidth(hz float64) error
	SetSquelch(level float64)
	SetSampleRate(hz float64) error
	SetMode(mode dsp.Mode)
	UpdateDisplayParameters(fftSize, averagingCount, waterfallHeight int) error
	SetAutoScale(enabled bool)
	SetManualScale(minDB, maxDB float64) error
}

// Command is a control message sent by a UI client. Type picks the setter;
// only the fields that setter needs are read.
//
//	{"type":"tune","value":0.42}
//	{"type":"display","fftSize":2048,"averagingCount":4,"waterfallHeight":256}
type Command struct {
	Type            string  `json:"type"`
	Value           float64 `json:"value"`
	Mode            string  `json:"mode"`
	Enabled         bool    `json:"enabled"`
	FFTSize         int     `json:"fftSize"`
	AveragingCount  int     `json:"averagingCount"`
	WaterfallHeight int     `json:"waterfallHeight"`
	MinDB           float64 `json:"minDb"`
	MaxDB           float64 `json:"maxDb"`
}

// Apply runs cmd against rx.
func Apply(rx Receiver, cmd Command) error {
	switch cmd.Type {
	case "tune":
		rx.SetTuningOffset(cmd.Value)
	case "bandwidth":
		return rx.SetBandwidth(cmd.Value)
	case "squelch":
		rx.SetSquelch(cmd.Value)
	case "sampleRate":
		return rx.SetSampleRate(cmd.Value)
	case "mode":
		mode, err := dsp.ParseMode(cmd.Mode)
		if err != nil {
			return err
		}
		rx.SetMode(mode)
	case "display":
		return rx.UpdateDisplayParameters(cmd.FFTSize, cmd.AveragingCount, cmd.WaterfallHeight)
	case "autoScale":
		rx.SetAutoScale(cmd.Enabled)
	case "manualScale":
		return rx.SetManualScale(cmd.MinDB, cmd.MaxDB)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return nil
}
