package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"
)

// Mode selects a demodulation scheme.
type Mode int

const (
	ModeNFM Mode = iota
	ModeWFM
	ModeAM
)

// ParseMode maps a config name ("nfm", "wfm", "am") to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nfm":
		return ModeNFM, nil
	case "wfm":
		return ModeWFM, nil
	case "am":
		return ModeAM, nil
	}
	return 0, fmt.Errorf("dsp: unknown demodulation mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeNFM:
		return "nfm"
	case ModeWFM:
		return "wfm"
	case ModeAM:
		return "am"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// IntermediateRate is the rate the channel filter decimates towards for this
// mode. It leaves room above twice the audio bandwidth of the mode.
func (m Mode) IntermediateRate() float64 {
	if m == ModeWFM {
		return 200_000
	}
	return 40_000
}

// DemodConfig is the user-facing demodulator configuration.
type DemodConfig struct {
	BandwidthHz  float64
	SampleRateHz float64
	SquelchLevel float64 // [0,1]
}

// SquelchThreshold returns the mean-square power at or below which audio is muted.
func (c DemodConfig) SquelchThreshold() float64 {
	return c.SquelchLevel * c.SquelchLevel * 0.01
}

// Demodulator turns decimated baseband I/Q into audio.
type Demodulator interface {
	// Demodulate appends one audio sample per input sample to dst.
	Demodulate(dst []float32, iq []complex128) []float32
	// Configure applies a new configuration and clears stream state.
	Configure(cfg DemodConfig)
	Mode() Mode
}

// NewDemodulator returns the demodulator implementing mode.
func NewDemodulator(mode Mode, cfg DemodConfig, deemphTau float64) Demodulator {
	switch mode {
	case ModeAM:
		d := &AMDemodulator{}
		d.Configure(cfg)
		return d
	case ModeWFM:
		d := &FMDemodulator{mode: ModeWFM, tau: deemphTau}
		d.Configure(cfg)
		return d
	default:
		d := &FMDemodulator{mode: ModeNFM}
		d.Configure(cfg)
		return d
	}
}

// MeanPower returns the mean of |x|^2 over iq.
func MeanPower(iq []complex128) float64 {
	if len(iq) == 0 {
		return 0
	}
	var sum float64
	for _, x := range iq {
		sum += real(x)*real(x) + imag(x)*imag(x)
	}
	return sum / float64(len(iq))
}

func appendSilence(dst []float32, n int) []float32 {
	for range n {
		dst = append(dst, 0)
	}
	return dst
}

// FMDemodulator implements a polar discriminator for FM demodulation. In WFM
// mode the discriminator output goes through a de-emphasis filter.
type FMDemodulator struct {
	mode      Mode
	prev      complex128
	threshold float64
	tau       float64
	deemph    *deemphasis
	squelched bool
}

// Mode implements Demodulator.
func (d *FMDemodulator) Mode() Mode { return d.mode }

// Squelched reports whether the last block was muted.
func (d *FMDemodulator) Squelched() bool { return d.squelched }

// Configure implements Demodulator.
func (d *FMDemodulator) Configure(cfg DemodConfig) {
	d.threshold = cfg.SquelchThreshold()
	d.prev = 0
	d.deemph = nil
	if d.mode == ModeWFM && d.tau > 0 {
		rate := cfg.SampleRateHz / float64(DecimationFactor(cfg.SampleRateHz, d.mode.IntermediateRate()))
		d.deemph = newDeemphasis(rate, d.tau)
	}
}

// Demodulate implements Demodulator. Output is the phase step between
// consecutive samples scaled by 1/2π, so a full-scale deviation of ±fs/2
// maps to ±0.5.
func (d *FMDemodulator) Demodulate(dst []float32, iq []complex128) []float32 {
	if len(iq) == 0 {
		return dst
	}

	d.squelched = MeanPower(iq) <= d.threshold
	if d.squelched {
		// Keep the reference so reopening does not produce a spike.
		d.prev = iq[len(iq)-1]
		return appendSilence(dst, len(iq))
	}

	prev := d.prev
	for _, current := range iq {
		// The angle of current times the conjugate of prev is the phase
		// difference, already wrapped into (-π, π].
		diff := cmplx.Phase(current * cmplx.Conj(prev))
		sample := diff / (2 * math.Pi)
		if d.deemph != nil {
			sample = d.deemph.step(sample)
		}
		dst = append(dst, float32(sample))
		prev = current
	}

	// Save the last sample of the current block for the next call.
	d.prev = prev
	return dst
}

// deemphasis is the single-pole low-pass that undoes broadcast FM
// pre-emphasis. tau is 50us in Europe and 75us in the US.
type deemphasis struct {
	alpha float64
	y     float64
}

func newDeemphasis(rate, tau float64) *deemphasis {
	return &deemphasis{alpha: 1 / (1 + tau*rate)}
}

func (d *deemphasis) step(x float64) float64 {
	d.y += d.alpha * (x - d.y)
	return d.y
}

// AMDemodulator is an envelope detector with a slow DC blocker.
type AMDemodulator struct {
	threshold float64
	dc        float64
	primed    bool
}

const amDCAlpha = 0.001

// Mode implements Demodulator.
func (d *AMDemodulator) Mode() Mode { return ModeAM }

// Configure implements Demodulator.
func (d *AMDemodulator) Configure(cfg DemodConfig) {
	d.threshold = cfg.SquelchThreshold()
	d.dc = 0
	d.primed = false
}

// Demodulate implements Demodulator.
func (d *AMDemodulator) Demodulate(dst []float32, iq []complex128) []float32 {
	if len(iq) == 0 {
		return dst
	}
	if MeanPower(iq) <= d.threshold {
		return appendSilence(dst, len(iq))
	}
	for _, x := range iq {
		env := cmplx.Abs(x)
		if !d.primed {
			d.dc = env
			d.primed = true
		}
		d.dc += amDCAlpha * (env - d.dc)
		dst = append(dst, float32(env-d.dc))
	}
	return dst
}
