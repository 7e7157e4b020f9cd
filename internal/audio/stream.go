// Package audio connects the engine's audio ring buffer to the sound card and
// to an optional WAV recorder.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
)

// Source is the pull side of the engine's audio path.
type Source interface {
	// PullAudio fills dst, padding with silence, and returns the number of
	// real samples.
	PullAudio(dst []float32) int
}

// Stream adapts a Source to the io.Reader oto pulls from. Samples are scaled
// by the gain, hard clipped to [-1,1] and encoded as float32 little endian.
type Stream struct {
	src     Source
	gain    atomic.Uint64 // float64 bits
	scratch []float32
	clipped atomic.Uint64
}

// NewStream returns a Stream reading from src.
func NewStream(src Source, gain float64) *Stream {
	s := &Stream{src: src}
	s.SetGain(gain)
	return s
}

// SetGain changes the output gain. Safe to call while playing.
func (s *Stream) SetGain(gain float64) {
	s.gain.Store(math.Float64bits(gain))
}

// Gain returns the current output gain.
func (s *Stream) Gain() float64 {
	return math.Float64frombits(s.gain.Load())
}

// Clipped returns how many samples were clipped so far.
func (s *Stream) Clipped() uint64 {
	return s.clipped.Load()
}

// Read implements io.Reader. It never blocks waiting for audio.
func (s *Stream) Read(p []byte) (int, error) {
	n := len(p) / 4
	if n == 0 {
		return 0, nil
	}
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	samples := s.scratch[:n]
	s.src.PullAudio(samples)

	gain := float32(s.Gain())
	var clipped uint64
	for i, v := range samples {
		v *= gain
		// Handle clipping
		if v > 1 {
			v = 1
			clipped++
		} else if v < -1 {
			v = -1
			clipped++
		}
		binary.LittleEndian.PutUint32(p[4*i:], math.Float32bits(v))
	}
	if clipped > 0 {
		s.clipped.Add(clipped)
	}
	return 4 * n, nil
}

// Player plays a Stream on the default output device.
type Player struct {
	ctx    *oto.Context
	player *oto.Player
}

// NewPlayer opens the output device at sampleRate, mono float32, and starts
// pulling from s.
func NewPlayer(sampleRate int, s *Stream) (*Player, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("audio: open output: %w", err)
	}
	<-ready

	player := ctx.NewPlayer(s)
	player.Play()
	return &Player{ctx: ctx, player: player}, nil
}

// Close stops playback.
func (p *Player) Close() error {
	return p.player.Close()
}
