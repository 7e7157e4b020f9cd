// Package engine runs the receiver pipeline: it queues raw I/Q bytes from the
// transport, processes them in fixed-size chunks on a single worker, feeds the
// audio ring buffer and publishes spectrum snapshots.
package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"go-iq-receiver/internal/config"
	"go-iq-receiver/internal/dsp"
	"go-iq-receiver/internal/ringbuffer"
)

// ErrReconfigureTimeout is reported when a reconfiguration could not get the
// pipeline within the drain timeout. The change is still applied by whoever
// holds the pipeline, between two chunks.
var ErrReconfigureTimeout = errors.New("engine: timed out waiting for in-flight cycle")

// Option customizes an Engine.
type Option func(*Engine)

// WithAudioTap registers fn to receive every block of output audio right after
// it is written to the ring buffer. fn runs on the DSP worker, must not block
// and must not retain samples.
func WithAudioTap(fn func(samples []float32)) Option {
	return func(e *Engine) {
		e.tap = fn
	}
}

// Engine is the receiver core. Submit, the setters, the snapshot getters and
// PullAudio are safe to call from any goroutine.
type Engine struct {
	log *log.Logger

	queueMu  sync.Mutex
	queue    bytes.Buffer
	maxQueue atomic.Int64

	// slot is held by whoever owns p: a processing cycle or a reconfiguration.
	slot chan struct{}
	wake chan struct{}
	p    *pipeline

	vfo  *dsp.Downconverter
	ring *ringbuffer.RingBuffer
	tap  func([]float32)

	settingsMu  sync.Mutex
	want        Settings
	requestedAt time.Time
	reconfigure atomic.Bool

	autoScale atomic.Bool
	manual    atomic.Pointer[dsp.Scale]

	maxQueueBytes   int
	publishInterval time.Duration
	drainTimeout    time.Duration
	publishArmed    atomic.Bool

	spectrum         atomic.Pointer[SpectrumSnapshot]
	waterfall        atomic.Pointer[WaterfallSnapshot]
	scale            atomic.Pointer[ScaleSnapshot]
	spectrumVersion  atomic.Uint64
	waterfallVersion atomic.Uint64
	scaleVersion     atomic.Uint64

	stats   counters
	skipLog logLimiter
}

// New builds an engine from cfg. Every buffer is allocated here; a failure
// to plan the FFT is returned rather than surfacing later.
func New(cfg *config.Config, logger *log.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := dsp.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	s := Settings{
		FFTSize:         cfg.FFTSize,
		AveragingCount:  cfg.AveragingCount,
		WaterfallHeight: cfg.WaterfallHeight,
		Mode:            mode,
		BandwidthHz:     cfg.BandwidthHz,
		SampleRateHz:    cfg.IQSampleRate,
		Squelch:         cfg.Squelch,
	}
	manual := dsp.Scale{MinDB: cfg.ManualMinDB, MaxDB: cfg.ManualMaxDB}

	p, err := newPipeline(s, cfg.OutputSampleRate, cfg.MaxChunksPerCycle, cfg.FilterTaps, cfg.DeemphTau, manual)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:             logger,
		slot:            make(chan struct{}, 1),
		wake:            make(chan struct{}, 1),
		p:               p,
		vfo:             dsp.NewDownconverter(cfg.TuningOffset),
		ring:            ringbuffer.New(cfg.RingBufferSize),
		want:            s,
		maxQueueBytes:   cfg.MaxQueueBytes,
		publishInterval: cfg.PublishInterval,
		drainTimeout:    cfg.DrainTimeout,
		skipLog:         logLimiter{interval: time.Second},
	}
	e.autoScale.Store(cfg.AutoScale)
	e.manual.Store(&manual)
	e.setMaxQueue(p.chunkBytes)
	for _, opt := range opts {
		opt(e)
	}

	e.log.Info("engine ready",
		"fft", s.FFTSize,
		"mode", s.Mode,
		"rate", s.SampleRateHz,
		"intermediate", p.intermediateRate(),
		"decimation", p.channel.Factor(),
		"ring", e.ring.Capacity())
	return e, nil
}

// Run is the DSP worker. It processes queued data whenever Submit or a setter
// signals and returns when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Debug("dsp worker started")
	defer e.log.Debug("dsp worker stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.wake:
			if _, more := e.step(); more {
				e.schedule()
			}
		}
	}
}

// Process runs cycles on the calling goroutine until less than one chunk is
// queued, and returns the number of chunks processed. It returns early if
// another goroutine owns the pipeline.
func (e *Engine) Process() int {
	total := 0
	for {
		n, more := e.step()
		total += n
		if !more {
			return total
		}
	}
}

// Submit queues raw interleaved unsigned 8-bit I/Q bytes. It never waits on
// DSP work. When the queue exceeds its bound the oldest bytes are dropped.
func (e *Engine) Submit(b []byte) {
	if len(b) == 0 {
		return
	}

	e.queueMu.Lock()
	e.queue.Write(b)
	over := e.queue.Len() - int(e.maxQueue.Load())
	if over > 0 {
		over += over & 1 // stay on an I/Q pair boundary
		e.queue.Next(over)
	}
	e.queueMu.Unlock()

	e.stats.bytesIn.Add(uint64(len(b)))
	if over > 0 {
		e.stats.bytesDropped.Add(uint64(over))
	}
	e.schedule()
}

// Write implements io.Writer on top of Submit so sources can io.Copy into
// the engine.
func (e *Engine) Write(b []byte) (int, error) {
	e.Submit(b)
	return len(b), nil
}

// PullAudio fills dst from the audio ring buffer, padding with silence on
// underrun. It returns the number of real samples copied. It never blocks
// beyond the ring buffer's copy.
func (e *Engine) PullAudio(dst []float32) int {
	n := e.ring.Read(dst)
	if n < len(dst) {
		clear(dst[n:])
		if len(dst) > 0 {
			e.stats.underruns.Add(1)
		}
	}
	return n
}

// ResetAudio discards buffered audio.
func (e *Engine) ResetAudio() {
	e.ring.Reset()
}

func (e *Engine) schedule() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// acquire takes the slot. Plain cycles give up immediately if it is held
// (single flight); a pending reconfiguration waits up to the drain timeout.
func (e *Engine) acquire() bool {
	select {
	case e.slot <- struct{}{}:
		return true
	default:
	}
	if !e.reconfigure.Load() {
		return false
	}

	timer := time.NewTimer(e.drainTimeout)
	defer timer.Stop()
	select {
	case e.slot <- struct{}{}:
		return true
	case <-timer.C:
		e.stats.reconfigTimeouts.Add(1)
		e.log.Warn("reconfiguration still waiting", "err", ErrReconfigureTimeout, "timeout", e.drainTimeout)
		return false
	}
}

func (e *Engine) release() {
	<-e.slot
}

// step applies any pending reconfiguration, runs one cycle and reports the
// chunks processed and whether another full chunk is queued.
func (e *Engine) step() (int, bool) {
	if !e.acquire() {
		return 0, false
	}
	defer e.release()

	e.applyPending()
	n := e.cycle()
	e.maybePublish()
	return n, e.reconfigure.Load() || e.queued() >= e.p.chunkBytes
}

func (e *Engine) queued() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return e.queue.Len()
}

// cycle takes up to MaxChunksPerCycle whole chunks off the queue and runs them
// through the pipeline one at a time.
func (e *Engine) cycle() int {
	p := e.p

	e.queueMu.Lock()
	n := min(e.queue.Len()/p.chunkBytes, p.maxChunks)
	raw := p.raw[:n*p.chunkBytes]
	if n > 0 {
		_, _ = e.queue.Read(raw)
	}
	e.queueMu.Unlock()

	for i := range n {
		if i > 0 && e.reconfigure.Load() {
			// Hand the rest back so it is chunked with the new size.
			e.requeue(raw[i*p.chunkBytes:])
			return i
		}
		e.processChunk(raw[i*p.chunkBytes : (i+1)*p.chunkBytes])
	}
	return n
}

func (e *Engine) requeue(rest []byte) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	merged := make([]byte, 0, len(rest)+e.queue.Len())
	merged = append(merged, rest...)
	merged = append(merged, e.queue.Bytes()...)
	e.queue.Reset()
	e.queue.Write(merged)
}

// processChunk runs downconvert, FFT, filter/decimate, demodulate and
// resample for one chunk, then pushes the audio out immediately.
func (e *Engine) processChunk(raw []byte) {
	p := e.p

	if err := dsp.ConvertIQ(p.iq, raw); err != nil {
		e.skip("convert", err)
		return
	}
	if err := e.vfo.Shift(p.baseband, p.iq); err != nil {
		e.skip("downconvert", err)
		return
	}
	if err := p.analyzer.Analyze(p.baseband); err != nil {
		e.skip("fft", err)
		return
	}

	p.decimated = p.channel.Process(p.decimated[:0], p.baseband)
	p.audio = p.demod.Demodulate(p.audio[:0], p.decimated)
	p.resampled = p.resampler.Process(p.resampled[:0], p.audio)

	e.ring.Write(p.resampled)
	if e.tap != nil {
		e.tap(p.resampled)
	}

	p.dirty = true
	e.stats.chunks.Add(1)
	e.maybePublish()
}

// applyPending swaps in the latest requested settings. Must hold the slot.
func (e *Engine) applyPending() {
	if !e.reconfigure.Load() {
		return
	}

	e.settingsMu.Lock()
	next := e.want
	requested := e.requestedAt
	e.reconfigure.Store(false)
	e.settingsMu.Unlock()

	prev := e.p.settings
	if next == prev {
		return
	}
	if err := e.p.apply(next); err != nil {
		e.log.Error("reconfiguration failed, keeping previous settings", "err", err)
		return
	}
	e.setMaxQueue(e.p.chunkBytes)
	e.stats.reconfigurations.Add(1)

	e.log.Info("reconfigured",
		"fft", next.FFTSize,
		"averaging", next.AveragingCount,
		"waterfall", next.WaterfallHeight,
		"mode", next.Mode,
		"bandwidth", next.BandwidthHz,
		"rate", next.SampleRateHz,
		"squelch", next.Squelch,
		"decimation", e.p.channel.Factor(),
		"waited", time.Since(requested).Round(time.Microsecond))
}

func (e *Engine) setMaxQueue(chunkBytes int) {
	e.maxQueue.Store(int64(max(e.maxQueueBytes, 2*chunkBytes)))
}

func (e *Engine) skip(stage string, err error) {
	total := e.stats.skips.Add(1)
	if e.skipLog.Allow() {
		e.log.Warn("chunk skipped", "stage", stage, "err", err, "total", total)
	}
}
