// Command ciallo is the desktop assistant's core process: it owns the audio
// pipeline, the wake confirmer, the scheduler lanes, and the translation
// flows, and exposes the UI command surface to the WebView shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ciallo/internal/app"
	"ciallo/internal/audio"
	"ciallo/internal/config"
	"ciallo/internal/health"
	"ciallo/internal/history"
	"ciallo/internal/metrics"
	"ciallo/internal/observe"
	"ciallo/internal/ocr"
	"ciallo/internal/pipeline"
	"ciallo/internal/translate"
	"ciallo/internal/vad"
	"ciallo/internal/wake"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ciallo: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ciallo: %v\n", err)
		}
		return 1
	}

	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// Hot-reload the tunables that are safe to change at runtime; everything
	// else logs a restart-required notice.
	watcher, err := config.NewWatcher(*configPath, 0, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.WakeChanged || d.VADChanged || d.RetryChanged || d.RateLimitChanged {
			slog.Info("config changed; restart to apply wake/vad/retry/rate-limit updates")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	dataDir, err := cfg.Server.ResolveDataDir()
	if err != nil {
		slog.Warn("cannot resolve data directory", "err", err)
	} else if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slog.Warn("cannot create data directory", "dir", dataDir, "err", err)
	}

	slog.Info("ciallo starting", "config", *configPath, "log_level", cfg.Server.LogLevel, "data_dir", dataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "ciallo"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelFn()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := metrics.NewRegistry()
	obs := observe.DefaultMetrics()
	deps := app.Deps{
		Config:     cfg,
		Metrics:    reg,
		Observe:    obs,
		TargetLang: cfg.Server.TargetLang,
		Capturer:   newClipboardCapturer(),
	}

	// ── Translation service (optional: needs DEEPSEEK_API_KEY) ───────────
	if provider, err := translate.NewDeepSeek(""); err != nil {
		slog.Warn("translation disabled", "err", err)
	} else {
		svcCfg := translate.ServiceConfig{
			Provider:           provider,
			L1:                 translate.NewL1(cfg.Cache.L1Capacity, time.Duration(cfg.Cache.L1TTLMin)*time.Minute),
			MinRequestInterval: cfg.RateLimit.MinInterval(),
			Retry:              retryPolicy(cfg.Retry),
			Observe:            obs,
		}
		if dsn := cfg.Server.PostgresDSN; dsn != "" {
			l2, err := translate.NewL2(ctx, dsn, time.Duration(cfg.Cache.L2TTLDays)*24*time.Hour)
			if err != nil {
				slog.Warn("l2 cache disabled", "err", err)
			} else {
				defer l2.Close()
				go l2.RunCleanup(ctx, time.Hour)
				svcCfg.L2 = l2
			}
		}
		deps.Translator = translate.NewService(svcCfg)
	}

	// ── History store (optional: needs postgres) ─────────────────────────
	if dsn := cfg.Server.PostgresDSN; dsn != "" {
		store, err := history.NewStore(ctx, dsn)
		if err != nil {
			slog.Warn("history disabled", "err", err)
		} else {
			defer store.Close()
			batcher := history.NewBatcher(store, cfg.History.FlushInterval(), reg)
			go batcher.Run(ctx)
			defer batcher.Wait()
			deps.History = batcher
			deps.HistoryQuery = store
		}
	}

	// ── OCR worker (optional: needs a configured worker command) ─────────
	if cmd := cfg.Server.OCRWorkerCmd; cmd != "" {
		client, err := ocr.NewClient(ctx, execLauncher{command: cmd})
		if err != nil {
			slog.Warn("ocr disabled", "err", err)
		} else {
			defer client.Close()
			go health.NewMonitor(client).Run(ctx)
			deps.OCR = ocrService{client: client}
		}
	}
	if cmd := cfg.Server.ScreenshotCmd; cmd != "" {
		deps.Screens = execScreens{command: cmd}
	}

	// ── Control plane + audio front end ──────────────────────────────────
	application := app.New(ctx, deps)
	defer application.Close()

	audioPipe := pipeline.New(pipeline.Config{
		TickHz:    cfg.Pipeline.TickHz,
		ThLow:     cfg.Wake.ThLow,
		Source:    stdinSource{},
		Ring:      audio.NewRingBuffer(),
		VAD:       vad.New(vad.Config{SilenceRMS: cfg.VAD.SilenceRMS, SilenceFrames: cfg.VAD.SilenceFrames}),
		Detector:  wake.NewEnergySpike(),
		OnWakeHit: application.OnWakeHit,
	})
	audioPipe.Start(ctx)
	defer audioPipe.Stop()

	go drainEvents(ctx, application)

	slog.Info("ciallo ready — press Ctrl+C to shut down")
	<-ctx.Done()
	slog.Info("shutdown signal received, stopping")
	return 0
}

// drainEvents forwards UI events to the log until a WebView bridge is
// attached in their place.
func drainEvents(ctx context.Context, application *app.App) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-application.Events():
			slog.Debug("ui event", "name", ev.Name)
		}
	}
}

func retryPolicy(cfg config.RetryConfig) translate.RetryPolicy {
	policy := translate.RetryPolicy{TimeoutRetries: 1}
	for _, ms := range cfg.Retry429Ms {
		policy.RateLimited = append(policy.RateLimited, time.Duration(ms)*time.Millisecond)
	}
	for _, ms := range cfg.Retry5xxMs {
		policy.ServerError = append(policy.ServerError, time.Duration(ms)*time.Millisecond)
	}
	return policy
}

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	levelVar := &slog.LevelVar{}
	levelVar.Set(slogLevel(level))

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})
	return slog.New(observe.NewRedactingHandler(handler)), levelVar
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
