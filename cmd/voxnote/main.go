// Command voxnote runs an interactive live voice session against the user's
// grounding sources from the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/avelops/voxnote/internal/config"
	"github.com/avelops/voxnote/internal/controller"
	"github.com/avelops/voxnote/internal/credential"
	"github.com/avelops/voxnote/internal/grounding"
	"github.com/avelops/voxnote/internal/health"
	"github.com/avelops/voxnote/internal/observe"
	"github.com/avelops/voxnote/internal/transcript"
	"github.com/avelops/voxnote/pkg/capture"
	"github.com/avelops/voxnote/pkg/live"
	"github.com/avelops/voxnote/pkg/live/gemini"
	"github.com/avelops/voxnote/pkg/playback"
	"github.com/avelops/voxnote/pkg/store"
	pgstore "github.com/avelops/voxnote/pkg/store/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxnote: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxnote: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxnote starting",
		"config", *configPath,
		"voice", cfg.Live.Voice,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Source store ──────────────────────────────────────────────────────────
	sources, closeStore, err := newSourceStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open source store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Audio devices ─────────────────────────────────────────────────────────
	devctx, err := capture.NewMalgoContext()
	if err != nil {
		fmt.Fprintln(os.Stderr, controller.UserMessage(err))
		return 1
	}
	defer devctx.Close()

	output, err := playback.NewMalgoOutput(cfg.Audio.OutputSampleRate)
	if err != nil {
		slog.Error("failed to open playback device", "err", err)
		return 1
	}

	// ── Transcript display ────────────────────────────────────────────────────
	var (
		printMu sync.Mutex
		printed int
		agg     *transcript.Aggregator
	)
	agg = transcript.New(transcript.WithListener(func() {
		printMu.Lock()
		defer printMu.Unlock()
		for _, turn := range agg.Snapshot()[printed:] {
			fmt.Printf("%s\n", transcript.Format([]transcript.Turn{turn}))
			printed++
		}
	}))

	// ── Controller ────────────────────────────────────────────────────────────
	ctrl := controller.New(controller.Config{
		NewDialer: func(apiKey string) live.Dialer {
			var opts []gemini.Option
			if cfg.Live.Model != "" {
				opts = append(opts, gemini.WithModel(cfg.Live.Model))
			}
			if cfg.Live.BaseURL != "" {
				opts = append(opts, gemini.WithBaseURL(cfg.Live.BaseURL))
			}
			return gemini.New(apiKey, opts...)
		},
		Credential:       credential.NewChain(cfg.Live.APIKey),
		Capture:          capture.New(devctx, cfg.Audio.InputSampleRate),
		Playback:         playback.NewScheduler(output, cfg.Audio.OutputSampleRate),
		Transcript:       agg,
		Sources:          sources,
		Voice:            cfg.Live.Voice,
		InputSampleRate:  cfg.Audio.InputSampleRate,
		OutputSampleRate: cfg.Audio.OutputSampleRate,
		Logger:           logger,
	})
	defer ctrl.Close()

	// ── Grounding context from stored sources ─────────────────────────────────
	stored, err := sources.List(ctx)
	if err != nil {
		slog.Error("failed to list sources", "err", err)
		return 1
	}
	slog.Info("grounding sources loaded", "count", len(stored))

	if err := ctrl.Open(ctx, grounding.Build(stored)); err != nil {
		fmt.Fprintln(os.Stderr, controller.UserMessage(err))
		return 1
	}

	fmt.Println("session started — commands: m (mute), s (save transcript), q (quit)")

	// ── Run loop ──────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.MetricsAddr != "" {
		checks := health.New(
			health.SessionChecker(ctrl.State),
			health.StoreChecker(sources),
		)
		g.Go(func() error { return serveMetrics(gctx, cfg.Server.MetricsAddr, checks) })
	}
	g.Go(func() error { return commandLoop(gctx, ctrl) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	if err := ctrl.Close(); err != nil {
		slog.Warn("session close error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// commandLoop reads single-letter commands from stdin until the context ends
// or the user quits.
func commandLoop(ctx context.Context, ctrl *controller.Controller) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "m":
				if ctrl.ToggleMute() {
					fmt.Println("muted")
				} else {
					fmt.Println("unmuted")
				}
			case "s":
				src, err := ctrl.SaveTranscript(ctx)
				if errors.Is(err, controller.ErrEmptyTranscript) {
					fmt.Println("nothing to save yet")
				} else if err != nil {
					fmt.Printf("save failed: %v\n", err)
				} else {
					fmt.Printf("saved as %s\n", src.Title)
				}
			case "q":
				return nil
			case "":
			default:
				fmt.Println("commands: m (mute), s (save transcript), q (quit)")
			}
		}
	}
}

// serveMetrics exposes the Prometheus /metrics endpoint and health probes
// until ctx ends.
func serveMetrics(ctx context.Context, addr string, checks *health.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	checks.Register(mux)

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("metrics endpoint ready", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// newSourceStore builds the configured store backend. The returned func
// releases it.
func newSourceStore(ctx context.Context, cfg config.StoreConfig) (store.SourceStore, func(), error) {
	switch cfg.Driver {
	case config.StorePostgres:
		pg, err := pgstore.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return store.NewMemStore(), func() {}, nil
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
