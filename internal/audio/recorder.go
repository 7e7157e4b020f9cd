package audio

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/log"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const recorderQueue = 256

// Recorder writes demodulated audio to a 16-bit mono WAV file. Tap is meant
// to be registered as the engine's audio tap; the file is written on the
// goroutine running Run.
type Recorder struct {
	log     *log.Logger
	f       *os.File
	enc     *wav.Encoder
	blocks  chan []float32
	buf     *goaudio.IntBuffer
	written atomic.Uint64
	dropped atomic.Uint64
}

// NewRecorder creates path and prepares the WAV header.
func NewRecorder(path string, sampleRate int, logger *log.Logger) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create recording: %w", err)
	}
	format := &goaudio.Format{NumChannels: 1, SampleRate: sampleRate}
	return &Recorder{
		log:    logger,
		f:      f,
		enc:    wav.NewEncoder(f, sampleRate, 16, 1, 1),
		blocks: make(chan []float32, recorderQueue),
		buf:    &goaudio.IntBuffer{Format: format, SourceBitDepth: 16},
	}, nil
}

// Tap queues a copy of samples for writing. It never blocks; when the writer
// falls behind the block is dropped and counted.
func (r *Recorder) Tap(samples []float32) {
	if len(samples) == 0 {
		return
	}
	block := make([]float32, len(samples))
	copy(block, samples)
	select {
	case r.blocks <- block:
	default:
		r.dropped.Add(uint64(len(samples)))
	}
}

// Written returns the number of samples written to the file.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Dropped returns the number of samples lost because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Run writes queued audio until ctx is done, then flushes what is queued and
// finalizes the file.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.close()
	for {
		select {
		case block := <-r.blocks:
			if err := r.write(block); err != nil {
				return err
			}
		case <-ctx.Done():
			for {
				select {
				case block := <-r.blocks:
					if err := r.write(block); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

func (r *Recorder) write(block []float32) error {
	if cap(r.buf.Data) < len(block) {
		r.buf.Data = make([]int, len(block))
	}
	r.buf.Data = r.buf.Data[:len(block)]
	for i, v := range block {
		v = max(-1, min(1, v))
		r.buf.Data[i] = int(v * 32767)
	}
	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("audio: write recording: %w", err)
	}
	r.written.Add(uint64(len(block)))
	return nil
}

func (r *Recorder) close() {
	if err := r.enc.Close(); err != nil {
		r.log.Error("finalize recording", "err", err)
	}
	if err := r.f.Close(); err != nil {
		r.log.Error("close recording", "err", err)
	}
	r.log.Info("recording closed", "samples", r.written.Load(), "dropped", r.dropped.Load())
}
