package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"go-iq-receiver/internal/config"
)

func TestServe_StopsAtEndOfRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cu8")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{200, 60}, 16*1024), 0o644))

	cfg := config.New()
	cfg.FFTSize = 1024
	cfg.Source.File = path
	cfg.Source.Pace = false
	cfg.Audio.Enabled = false
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, log.New(io.Discard)) }()

	select {
	case err := <-done:
		require.NoError(t, err)
		require.NoError(t, ctx.Err(), "serve only returned because the test timed out")
	case <-time.After(10 * time.Second):
		t.Fatal("serve kept running after the recording ended")
	}
}

func TestServe_MissingRecordingFails(t *testing.T) {
	cfg := config.New()
	cfg.Source.File = filepath.Join(t.TempDir(), "missing.cu8")
	cfg.Audio.Enabled = false

	err := serve(context.Background(), cfg, log.New(io.Discard))
	require.Error(t, err)
}
