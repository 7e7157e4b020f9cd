package engine

import (
	"time"

	"go-iq-receiver/internal/dsp"
)

// Snapshots are immutable once published: the engine never writes to a frame
// or row after storing it, and readers must not either.

// SpectrumSnapshot is the latest averaged, FFT-shifted spectrum in dB.
type SpectrumSnapshot struct {
	Version uint64    `json:"version"`
	Time    time.Time `json:"time"`
	Frame   []float64 `json:"frame"`
}

// WaterfallSnapshot is the spectrum history, newest row first.
type WaterfallSnapshot struct {
	Version uint64      `json:"version"`
	Width   int         `json:"width"`
	Rows    [][]float64 `json:"rows"`
}

// ScaleSnapshot is the display range that went with the latest spectrum.
type ScaleSnapshot struct {
	Version uint64 `json:"version"`
	Auto    bool   `json:"auto"`
	dsp.Scale
}

// Spectrum returns the latest published spectrum. Version is zero until the
// first publish.
func (e *Engine) Spectrum() SpectrumSnapshot {
	if s := e.spectrum.Load(); s != nil {
		return *s
	}
	return SpectrumSnapshot{}
}

// Waterfall returns the latest published waterfall history.
func (e *Engine) Waterfall() WaterfallSnapshot {
	if s := e.waterfall.Load(); s != nil {
		return *s
	}
	return WaterfallSnapshot{}
}

// Scale returns the latest published display range.
func (e *Engine) Scale() ScaleSnapshot {
	if s := e.scale.Load(); s != nil {
		return *s
	}
	return ScaleSnapshot{Auto: e.autoScale.Load(), Scale: *e.manual.Load()}
}

// maybePublish publishes if new chunks were processed and the publish
// interval has passed. Otherwise it arms a timer so a burst of cycles ends in
// exactly one late publish.
func (e *Engine) maybePublish() {
	p := e.p
	if !p.dirty {
		return
	}
	if wait := e.publishInterval - time.Since(p.lastPublish); wait > 0 {
		if e.publishArmed.CompareAndSwap(false, true) {
			time.AfterFunc(wait, func() {
				e.publishArmed.Store(false)
				e.schedule()
			})
		}
		return
	}
	e.publish()
}

func (e *Engine) publish() {
	p := e.p
	p.dirty = false
	p.lastPublish = time.Now()

	if err := p.analyzer.Average(p.average); err != nil {
		e.skip("average", err)
		return
	}

	var scale dsp.Scale
	auto := e.autoScale.Load()
	if auto {
		scale = p.auto.Update(p.average)
	} else {
		scale = *e.manual.Load()
	}

	row := make([]float64, len(p.average))
	if err := dsp.FFTShift(row, p.average); err != nil {
		e.skip("shift", err)
		return
	}
	p.waterfall.Push(row)

	e.spectrum.Store(&SpectrumSnapshot{
		Version: e.spectrumVersion.Add(1),
		Time:    p.lastPublish,
		Frame:   row,
	})
	e.waterfall.Store(&WaterfallSnapshot{
		Version: e.waterfallVersion.Add(1),
		Width:   len(row),
		Rows:    p.waterfall.Rows(make([][]float64, 0, p.waterfall.Len())),
	})
	if prev := e.scale.Load(); prev == nil || prev.Scale != scale || prev.Auto != auto {
		e.scale.Store(&ScaleSnapshot{
			Version: e.scaleVersion.Add(1),
			Auto:    auto,
			Scale:   scale,
		})
	}
	e.stats.published.Add(1)
}
