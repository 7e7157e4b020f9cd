package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"go-iq-receiver/internal/audio"
	"go-iq-receiver/internal/config"
	"go-iq-receiver/internal/engine"
	"go-iq-receiver/internal/iqsource"
	"go-iq-receiver/internal/uiserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "go-iq-receiver:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.StringP("config", "c", "", "YAML config file.")
		address    = pflag.StringP("address", "a", "", "Raw I/Q TCP source, host:port.")
		file       = pflag.StringP("file", "f", "", "I/Q recording (.iq, .cu8 or .wav).")
		loop       = pflag.Bool("loop", false, "Replay the recording forever.")
		noPace     = pflag.Bool("no-pace", false, "Read the recording as fast as possible.")
		mode       = pflag.StringP("mode", "m", "", "Demodulation mode: nfm, wfm or am.")
		offset     = pflag.Float64P("offset", "o", -1, "Tuning offset in the captured band, 0..1.")
		bandwidth  = pflag.Float64P("bandwidth", "b", 0, "Channel bandwidth in Hz.")
		squelch    = pflag.Float64P("squelch", "s", -1, "Squelch level, 0..1.")
		rate       = pflag.Float64P("rate", "r", 0, "I/Q sample rate in Hz.")
		fftSize    = pflag.Int("fft", 0, "FFT size, a power of two.")
		listen     = pflag.StringP("listen", "l", "", "UI listen address, e.g. :8080.")
		record     = pflag.String("record", "", "Write demodulated audio to this WAV file.")
		mute       = pflag.Bool("mute", false, "Disable audio playback.")
		gain       = pflag.Float64P("gain", "g", 0, "Audio gain.")
		level      = pflag.String("log-level", "info", "Log level: debug, info, warn, error.")
		help       = pflag.Bool("help", false, "Display help text.")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return nil
	}

	lvl, err := log.ParseLevel(*level)
	if err != nil {
		return err
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Level:           lvl,
	})

	cfg := config.New()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	// Flags override the file.
	set := func(name string) bool { return pflag.CommandLine.Changed(name) }
	if set("address") {
		cfg.Source.Address, cfg.Source.File = *address, ""
	}
	if set("file") {
		cfg.Source.File, cfg.Source.Address = *file, ""
	}
	if set("loop") {
		cfg.Source.Loop = *loop
	}
	if set("no-pace") {
		cfg.Source.Pace = !*noPace
	}
	if set("mode") {
		cfg.Mode = *mode
	}
	if set("offset") {
		cfg.TuningOffset = *offset
	}
	if set("bandwidth") {
		cfg.BandwidthHz = *bandwidth
	}
	if set("squelch") {
		cfg.Squelch = *squelch
	}
	if set("rate") {
		cfg.IQSampleRate = *rate
	}
	if set("fft") {
		cfg.FFTSize = *fftSize
	}
	if set("listen") {
		cfg.UI.Listen = *listen
	}
	if set("record") {
		cfg.Audio.Record = *record
	}
	if set("mute") {
		cfg.Audio.Enabled = !*mute
	}
	if set("gain") {
		cfg.Audio.Gain = *gain
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Source.Address == "" && cfg.Source.File == "" {
		pflag.Usage()
		return fmt.Errorf("no source: give --address or --file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger)
}

// serve runs until ctx is done, a component fails, or a recording played
// without looping reaches its end.
func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var opts []engine.Option
	var rec *audio.Recorder
	if cfg.Audio.Record != "" {
		var err error
		rec, err = audio.NewRecorder(cfg.Audio.Record, cfg.OutputSampleRate, logger.WithPrefix("recorder"))
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithAudioTap(rec.Tap))
		g.Go(func() error { return rec.Run(ctx) })
	}

	eng, err := engine.New(cfg, logger.WithPrefix("engine"), opts...)
	if err != nil {
		return err
	}
	g.Go(func() error { return eng.Run(ctx) })

	if cfg.Audio.Enabled {
		player, err := audio.NewPlayer(cfg.OutputSampleRate, audio.NewStream(eng, cfg.Audio.Gain))
		if err != nil {
			logger.Warn("audio output unavailable, continuing without playback", "err", err)
		} else {
			defer player.Close()
		}
	}

	if cfg.UI.Listen != "" {
		srv := uiserver.New(eng, cfg.UI.FrameRate, logger.WithPrefix("ui"))
		g.Go(func() error { return srv.Serve(ctx, cfg.UI.Listen) })
	}

	srcLog := logger.WithPrefix("source")
	g.Go(func() error {
		if cfg.Source.Address != "" {
			return iqsource.Stream(ctx, cfg.Source.Address, eng.Submit, srcLog)
		}
		if err := pumpFile(ctx, cfg, eng, srcLog); err != nil {
			return err
		}
		drain(ctx, eng, 2*time.Second)
		cancel()
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				logger.Info("stats", "engine", eng.Stats())
			}
		}
	})

	err = g.Wait()
	logger.Info("stopped", "stats", eng.Stats())
	return err
}

func pumpFile(ctx context.Context, cfg *config.Config, eng *engine.Engine, logger *log.Logger) error {
	f, err := iqsource.OpenFile(cfg.Source.File)
	if err != nil {
		return err
	}
	rate := cfg.IQSampleRate
	if f.WAV {
		logger.Info("wav recording", "rate", f.SampleRate, "bits", f.BitDepth)
		if f.SampleRate > 0 && float64(f.SampleRate) != cfg.IQSampleRate {
			rate = float64(f.SampleRate)
			if err := eng.SetSampleRate(rate); err != nil {
				f.Close()
				return err
			}
		}
	}

	var r io.ReadCloser = f
	if cfg.Source.Loop {
		f.Close()
		loop, err := iqsource.NewLoop(func() (io.ReadCloser, error) {
			return iqsource.OpenFile(cfg.Source.File)
		})
		if err != nil {
			return err
		}
		r = loop
	}
	defer r.Close()

	var src io.Reader = r
	if cfg.Source.Pace {
		src = iqsource.NewPacedReader(ctx, r, 2*rate)
	}
	n, err := iqsource.Pump(ctx, src, eng.Submit, iqsource.DefaultBlockSize)
	logger.Info("recording finished", "file", cfg.Source.File, "bytes", n)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// drain waits until less than one chunk is queued in eng or timeout passes.
func drain(ctx context.Context, eng *engine.Engine, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for eng.Stats().QueuedBytes >= 2*eng.Settings().FFTSize {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}
