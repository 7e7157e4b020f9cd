// Package iqsource provides the byte streams that feed the engine: a raw TCP
// stream, raw capture files and WAV-container I/Q recordings.
package iqsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultBlockSize is the read size used by Pump when none is given.
const DefaultBlockSize = 16 * 1024

const (
	dialTimeout       = 10 * time.Second
	reconnectInitial  = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// Dial opens a raw I/Q TCP stream. The server is expected to send interleaved
// unsigned 8-bit I/Q bytes with no framing.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("iqsource: connect to %s: %w", addr, err)
	}
	return conn, nil
}

// Pump reads r in blocks and hands every block to submit until r is
// exhausted or ctx is done. submit must copy what it keeps. It returns the
// number of bytes delivered; io.EOF is not an error.
func Pump(ctx context.Context, r io.Reader, submit func([]byte), blockSize int) (int64, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	buf := make([]byte, blockSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			submit(buf[:n])
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			return total, err
		}
	}
}

// Stream keeps a TCP source connected, pumping into submit and redialing with
// exponential backoff whenever the connection drops. It returns when ctx is
// done.
func Stream(ctx context.Context, addr string, submit func([]byte), logger *log.Logger) error {
	delay := reconnectInitial
	for {
		conn, err := Dial(ctx, addr)
		if err == nil {
			logger.Info("connected", "addr", addr)
			delay = reconnectInitial

			stop := context.AfterFunc(ctx, func() { conn.Close() })
			n, perr := Pump(ctx, conn, submit, DefaultBlockSize)
			stop()
			conn.Close()

			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("stream ended", "addr", addr, "bytes", n, "err", perr)
		} else {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("connect failed", "err", err, "retry", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		delay = min(delay*2, reconnectMaxDelay)
	}
}
