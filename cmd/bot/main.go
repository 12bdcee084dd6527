package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metro_alerts/internal/bot"
	"metro_alerts/internal/config"
	"metro_alerts/internal/dispatch"
	"metro_alerts/internal/fetcher"
	"metro_alerts/internal/opslog"
	"metro_alerts/internal/scheduler"
	"metro_alerts/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := newLogger(cfg.LogLevel)
	if cfg.OperatorTelegramToken != "" {
		h, err := opslog.NewTelegram(cfg.OperatorTelegramToken, cfg.OperatorTelegramChatID, log.Handler())
		if err != nil {
			log.Error("create operator log sink", "error", err)
			os.Exit(1)
		}
		go h.Run(ctx)
		log = slog.New(h)
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error("bot stopped", "error", err)
		cancel()
		os.Exit(1)
	}
	log.Info("bot stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.DatabaseDriver == "sqlite" {
		if dir := filepath.Dir(cfg.DatabaseDSN); dir != "." && cfg.DatabaseDSN != ":memory:" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return err
			}
		}
	}

	store, err := storage.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	src := fetcher.New(&http.Client{}, cfg.SourceURL, fetcher.SourceKind(cfg.SourceKind))
	src.SetTimeout(cfg.FetchTimeout)

	b, err := bot.New(cfg, store, log)
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	dispatcher := dispatch.New(store, b, log)
	dispatcher.SetRate(cfg.DeliveryRate)
	scraper := scheduler.NewScraper(src, store, cfg.RelevantMarker, log)

	sched := scheduler.New(log)
	if cfg.PromptChannelID != "" {
		sched.Add("prompt", cfg.PromptInterval, b.RefreshPrompt)
	}
	sched.Add("dispatch", cfg.DispatchInterval, dispatcher.DispatchPending)
	sched.Add("scrape", cfg.ScrapeInterval, scraper.Run)

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info("starting bot", "driver", cfg.DatabaseDriver, "source", cfg.SourceURL)

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveMetrics(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
