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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"kirjastokaveri/internal/api"
	"kirjastokaveri/internal/bot"
	"kirjastokaveri/internal/cache"
	"kirjastokaveri/internal/catalog"
	"kirjastokaveri/internal/config"
	"kirjastokaveri/internal/metrics"
	"kirjastokaveri/internal/monitor"
	"kirjastokaveri/internal/scheduler"
	"kirjastokaveri/internal/search"
	"kirjastokaveri/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend := cache.New(ctx, cfg.RedisURL, log)
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("close cache", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cat := catalog.New(&http.Client{Timeout: cfg.RequestTimeout}, catalog.Config{
		BaseURL:              cfg.FinnaBaseURL,
		SearchEndpoint:       cfg.FinnaSearchEndpoint,
		AvailabilityBaseURL:  cfg.FinnaAvailabilityBaseURL,
		AvailabilityEndpoint: cfg.FinnaAvailabilityEndpoint,
		Timeout:              cfg.RequestTimeout,
		RequestsPerSecond:    cfg.CatalogRateLimit,
	})
	cat.SetMetrics(m)

	svc := search.New(cat, backend, store, search.Config{
		CacheTTL:         cfg.CacheTTL,
		CoverCacheTTL:    cfg.CoverCacheTTL,
		MaxLimit:         cfg.DefaultSearchLimit,
		CoverConcurrency: cfg.CheckConcurrency,
	}, log)
	svc.SetMetrics(m)

	mon := monitor.New(store, cat, backend, monitor.Config{
		BatchSize:   cfg.CheckBatchSize,
		Concurrency: cfg.CheckConcurrency,
		CacheTTL:    cfg.CacheTTL,
	}, log)
	mon.SetMetrics(m)

	router := api.NewServer(svc, mon, store, log,
		api.WithMiddlewares(api.LoggingMiddleware(log)),
		api.WithMetricsHandler(metrics.Handler(reg)),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.SchedulerEnabled {
		sched := scheduler.New(mon, cfg.CheckInterval, cfg.CheckInitialDelay, log)
		g.Go(func() error {
			sched.Run(gctx)
			return nil
		})
	} else {
		log.Info("availability scheduler disabled")
	}

	if cfg.BotEnabled() {
		b, err := bot.New(cfg.TelegramBotToken, svc, mon, store, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			log.Info("starting operator bot")
			b.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
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
