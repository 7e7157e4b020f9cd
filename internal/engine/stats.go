package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

type counters struct {
	bytesIn          atomic.Uint64
	bytesDropped     atomic.Uint64
	chunks           atomic.Uint64
	skips            atomic.Uint64
	published        atomic.Uint64
	underruns        atomic.Uint64
	reconfigurations atomic.Uint64
	reconfigTimeouts atomic.Uint64
}

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	BytesIn          uint64 `json:"bytesIn"`
	BytesDropped     uint64 `json:"bytesDropped"`
	QueuedBytes      int    `json:"queuedBytes"`
	Chunks           uint64 `json:"chunks"`
	Skips            uint64 `json:"skips"`
	Published        uint64 `json:"published"`
	AudioBuffered    int    `json:"audioBuffered"`
	AudioDropped     uint64 `json:"audioDropped"`
	Underruns        uint64 `json:"underruns"`
	Reconfigurations uint64 `json:"reconfigurations"`
	ReconfigTimeouts uint64 `json:"reconfigTimeouts"`
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		BytesIn:          e.stats.bytesIn.Load(),
		BytesDropped:     e.stats.bytesDropped.Load(),
		QueuedBytes:      e.queued(),
		Chunks:           e.stats.chunks.Load(),
		Skips:            e.stats.skips.Load(),
		Published:        e.stats.published.Load(),
		AudioBuffered:    e.ring.AvailableRead(),
		AudioDropped:     e.ring.Dropped(),
		Underruns:        e.stats.underruns.Load(),
		Reconfigurations: e.stats.reconfigurations.Load(),
		ReconfigTimeouts: e.stats.reconfigTimeouts.Load(),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("in=%s dropped=%s queued=%s chunks=%s skips=%d frames=%s audio=%d lost=%s underruns=%s",
		humanize.Bytes(s.BytesIn),
		humanize.Bytes(s.BytesDropped),
		humanize.Bytes(uint64(s.QueuedBytes)),
		humanize.Comma(int64(s.Chunks)),
		s.Skips,
		humanize.Comma(int64(s.Published)),
		s.AudioBuffered,
		humanize.Comma(int64(s.AudioDropped)),
		humanize.Comma(int64(s.Underruns)))
}

// logLimiter allows at most one log line per interval.
type logLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (l *logLimiter) Allow() bool {
	if l.interval <= 0 {
		return true
	}
	now := time.Now().UnixNano()
	last := l.last.Load()
	if now-last < l.interval.Nanoseconds() {
		return false
	}
	return l.last.CompareAndSwap(last, now)
}
