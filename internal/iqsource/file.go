package iqsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedWAV is returned for WAV files that do not hold 8 or 16-bit
// stereo I/Q.
var ErrUnsupportedWAV = errors.New("iqsource: unsupported wav format")

// File is an I/Q recording opened for reading. Reads always yield
// interleaved unsigned 8-bit I/Q bytes, whatever the container.
type File struct {
	f   *os.File
	r   io.Reader
	WAV bool
	// SampleRate is the I/Q rate from the WAV header, zero for raw files.
	SampleRate int
	BitDepth   int
}

// OpenFile opens a raw .iq/.cu8 capture or a WAV-container I/Q recording.
// 16-bit WAV samples are reduced to unsigned 8-bit.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("iqsource: %w", err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		// Raw bytes; the probe above consumed the start of the file.
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("iqsource: rewind %s: %w", path, err)
		}
		return &File{f: f, r: f, BitDepth: 8}, nil
	}

	// Move to start of PCM/IQ data
	if err := decoder.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("iqsource: seek to pcm data: %w", err)
	}
	if decoder.NumChans != 2 || (decoder.BitDepth != 8 && decoder.BitDepth != 16) {
		f.Close()
		return nil, fmt.Errorf("%w: %d-bit, %d channels", ErrUnsupportedWAV, decoder.BitDepth, decoder.NumChans)
	}

	return &File{
		f:          f,
		r:          &wavReader{decoder: decoder, sixteen: decoder.BitDepth == 16},
		WAV:        true,
		SampleRate: int(decoder.SampleRate),
		BitDepth:   int(decoder.BitDepth),
	}, nil
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	return f.r.Read(p)
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

type wavReader struct {
	decoder *wav.Decoder
	sixteen bool
	buf     *audio.IntBuffer
}

func (w *wavReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if w.buf == nil || cap(w.buf.Data) < len(p) {
		w.buf = &audio.IntBuffer{
			Format: w.decoder.Format(),
			Data:   make([]int, len(p)),
		}
	}
	w.buf.Data = w.buf.Data[:len(p)]

	n, err := w.decoder.PCMBuffer(w.buf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	for i, v := range w.buf.Data[:n] {
		if w.sixteen {
			p[i] = byte((v >> 8) + 128)
		} else {
			p[i] = byte(v)
		}
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// Loop replays a source from the start each time it ends. open is called
// once up front and again after every EOF.
type Loop struct {
	open func() (io.ReadCloser, error)
	cur  io.ReadCloser
}

// NewLoop opens the first pass.
func NewLoop(open func() (io.ReadCloser, error)) (*Loop, error) {
	rc, err := open()
	if err != nil {
		return nil, err
	}
	return &Loop{open: open, cur: rc}, nil
}

// Read implements io.Reader. It never returns io.EOF unless a pass is empty.
func (l *Loop) Read(p []byte) (int, error) {
	n, err := l.cur.Read(p)
	if !errors.Is(err, io.EOF) {
		return n, err
	}
	l.cur.Close()
	rc, oerr := l.open()
	if oerr != nil {
		return n, oerr
	}
	l.cur = rc
	if n == 0 {
		n, err = l.cur.Read(p)
		return n, err
	}
	return n, nil
}

// Close closes the current pass.
func (l *Loop) Close() error {
	return l.cur.Close()
}

// PacedReader throttles an underlying reader to a fixed byte rate so a
// recording plays back in real time.
type PacedReader struct {
	ctx   context.Context
	r     io.Reader
	rate  float64
	max   int
	start time.Time
	total int64
}

// NewPacedReader returns a reader delivering at most bytesPerSecond on
// average. Sleeps end early when ctx is done.
func NewPacedReader(ctx context.Context, r io.Reader, bytesPerSecond float64) *PacedReader {
	// Hand out roughly 20ms of data per read.
	maxRead := max(int(bytesPerSecond/50)&^1, 2)
	return &PacedReader{ctx: ctx, r: r, rate: bytesPerSecond, max: maxRead}
}

// Read implements io.Reader.
func (p *PacedReader) Read(b []byte) (int, error) {
	if p.start.IsZero() {
		p.start = time.Now()
	}
	if len(b) > p.max {
		b = b[:p.max]
	}
	n, err := p.r.Read(b)
	p.total += int64(n)

	due := p.start.Add(time.Duration(float64(p.total) / p.rate * float64(time.Second)))
	if wait := time.Until(due); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			timer.Stop()
			if err == nil {
				err = p.ctx.Err()
			}
		}
	}
	return n, err
}
