package engine

import (
	"math"
	"time"

	"go-iq-receiver/internal/dsp"
)

// Settings is every parameter whose change requires the pipeline buffers or
// filters to be rebuilt. The tuning offset and scale controls are not here:
// they take effect without draining.
type Settings struct {
	FFTSize         int      `json:"fftSize"`
	AveragingCount  int      `json:"averagingCount"`
	WaterfallHeight int      `json:"waterfallHeight"`
	Mode            dsp.Mode `json:"mode"`
	BandwidthHz     float64  `json:"bandwidthHz"`
	SampleRateHz    float64  `json:"sampleRateHz"`
	Squelch         float64  `json:"squelch"`
}

func (s Settings) demodConfig() dsp.DemodConfig {
	return dsp.DemodConfig{
		BandwidthHz:  s.BandwidthHz,
		SampleRateHz: s.SampleRateHz,
		SquelchLevel: s.Squelch,
	}
}

// pipeline is the per-engine processing state. Only the holder of the
// engine's slot may touch it.
type pipeline struct {
	settings Settings

	outputRate int
	maxChunks  int
	filterTaps int
	deemphTau  float64

	chunkBytes int
	raw        []byte
	iq         []complex128
	baseband   []complex128
	decimated  []complex128
	audio      []float32
	resampled  []float32
	average    []float64

	analyzer  *dsp.Analyzer
	waterfall *dsp.Waterfall
	auto      *dsp.AutoScaler
	channel   *dsp.ChannelFilter
	demod     dsp.Demodulator
	resampler *dsp.Resampler

	dirty       bool
	lastPublish time.Time
}

func newPipeline(s Settings, outputRate, maxChunks, filterTaps int, deemphTau float64, initial dsp.Scale) (*pipeline, error) {
	analyzer, err := dsp.NewAnalyzer(s.FFTSize, s.AveragingCount)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		settings:   s,
		outputRate: outputRate,
		maxChunks:  maxChunks,
		filterTaps: filterTaps,
		deemphTau:  deemphTau,
		analyzer:   analyzer,
		waterfall:  dsp.NewWaterfall(s.WaterfallHeight),
		auto:       dsp.NewAutoScaler(initial),
		channel:    dsp.NewChannelFilter(filterTaps, s.BandwidthHz, s.SampleRateHz, s.Mode.IntermediateRate()),
		demod:      dsp.NewDemodulator(s.Mode, s.demodConfig(), deemphTau),
		resampler:  dsp.NewResampler(1),
	}
	p.resizeChunks()
	p.configureAudioPath()
	return p, nil
}

// apply swaps in next, rebuilding only what depends on the changed fields.
// On error nothing is modified.
func (p *pipeline) apply(next Settings) error {
	cur := p.settings

	if next.FFTSize != cur.FFTSize || next.AveragingCount != cur.AveragingCount {
		analyzer, err := dsp.NewAnalyzer(next.FFTSize, next.AveragingCount)
		if err != nil {
			return err
		}
		p.analyzer = analyzer
		p.dirty = false
	}
	if next.FFTSize != cur.FFTSize || next.WaterfallHeight != cur.WaterfallHeight {
		p.waterfall = dsp.NewWaterfall(next.WaterfallHeight)
	}
	if next.Mode != cur.Mode {
		p.demod = dsp.NewDemodulator(next.Mode, next.demodConfig(), p.deemphTau)
	}

	p.settings = next
	if next.FFTSize != cur.FFTSize {
		p.resizeChunks()
	}
	if next.FFTSize != cur.FFTSize || next.Mode != cur.Mode || next.BandwidthHz != cur.BandwidthHz ||
		next.SampleRateHz != cur.SampleRateHz || next.Squelch != cur.Squelch {
		p.configureAudioPath()
	}
	return nil
}

func (p *pipeline) resizeChunks() {
	n := p.settings.FFTSize
	p.chunkBytes = 2 * n
	p.raw = make([]byte, p.maxChunks*p.chunkBytes)
	p.iq = make([]complex128, n)
	p.baseband = make([]complex128, n)
	p.average = make([]float64, n)
}

// configureAudioPath regenerates the channel filter, decimation factor,
// demodulator state and resampler ratio together.
func (p *pipeline) configureAudioPath() {
	s := p.settings
	p.channel.Configure(s.BandwidthHz, s.SampleRateHz, s.Mode.IntermediateRate())
	p.demod.Configure(s.demodConfig())

	intermediate := s.SampleRateHz / float64(p.channel.Factor())
	p.resampler.SetRatio(float64(p.outputRate) / intermediate)

	decimated := s.FFTSize/p.channel.Factor() + 1
	p.decimated = make([]complex128, 0, decimated)
	p.audio = make([]float32, 0, decimated)
	p.resampled = make([]float32, 0, int(math.Ceil(float64(decimated)*p.resampler.Ratio()))+2)
}

func (p *pipeline) intermediateRate() float64 {
	return p.settings.SampleRateHz / float64(p.channel.Factor())
}
