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
	"golang.org/x/sync/errgroup"

	apihttp "popcornstream/internal/api/http"
	"popcornstream/internal/app"
	"popcornstream/internal/metrics"
	"popcornstream/internal/services/host"
	"popcornstream/internal/services/playback"
	"popcornstream/internal/services/torrent/engine/anacrolix"
	"popcornstream/internal/services/torrent/fetch"
	"popcornstream/internal/storage/disk"
	"popcornstream/internal/telemetry"
	"popcornstream/internal/usecase"
)

const serviceName = "popcorn-stream"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("registry", cfg.RegistryBackend),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.Int64("minFreeBytes", cfg.MinFreeBytes),
		slog.Bool("networkMetered", cfg.NetworkMetered),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock, ok, err := disk.AcquireDirLock(cfg.TorrentDataDir)
	if err != nil {
		logger.Error("data dir lock failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if !ok {
		logger.Error("data dir is in use by another instance", slog.String("dataDir", cfg.TorrentDataDir))
		os.Exit(1)
	}
	defer lock.Release()

	backends, err := openStores(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer backends.Close()

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:          cfg.TorrentDataDir,
		ReadyBufferBytes: cfg.ReadyBufferBytes,
		MetadataTimeout:  cfg.MetadataTimeout,
		MinFreeBytes:     cfg.MinFreeBytes,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cacheDir := cfg.TorrentCacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(cfg.TorrentDataDir, ".torrents")
	}
	fetcher := fetch.New(fetch.Config{
		CacheDir: cacheDir,
		Timeout:  cfg.FetchTimeout,
		MaxBytes: cfg.FetchMaxBytes,
		Logger:   logger,
	})
	cleaner := disk.Cleaner{
		Dir:       cfg.TorrentDataDir,
		Protected: func() []string { return append(engine.ActiveDirs(), cacheDir) },
		Logger:    logger,
	}

	hub := apihttp.NewHub(logger)
	coordCfg := usecase.CoordinatorConfig{
		Engine:       engine,
		Fetcher:      fetcher,
		Cleaner:      cleaner,
		Inhibitor:    host.NewInhibitor(logger),
		Network:      host.NewStaticNetwork(cfg.NetworkMetered),
		Consumer:     playback.Launcher{Command: cfg.PlayerCommand, Args: cfg.PlayerArgs, Logger: logger},
		Logger:       logger,
		AllowMetered: cfg.StreamOnMetered,
		Quality:      cfg.AutoSelectQuality,
		Observer:     hub.BroadcastReadiness,

		// Without a player the ready stream is left to HTTP clients until
		// the attempt is forgotten.
		ReleaseAfterPlay: cfg.PlayerCommand != "",
	}
	if backends.registry != nil {
		coordCfg.Registry = backends.registry
	}
	if backends.watched != nil {
		coordCfg.WatchProgress = backends.watched
	}
	coord := usecase.NewCoordinator(coordCfg)

	opts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithHub(hub),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithDownloadRoot(cfg.DownloadRoot),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	if backends.watched != nil {
		opts = append(opts, apihttp.WithWatchProgress(
			usecase.GetWatchProgress{Store: backends.watched},
			usecase.RecordWatchProgress{Store: backends.watched, Now: time.Now},
		))
	}
	if backends.catalog != nil {
		opts = append(opts, apihttp.WithDownloads(backends.catalog))
	}
	handler := apihttp.NewServer(coord, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		logger.Info("server started", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.MinFreeBytes > 0 {
		g.Go(func() error {
			usecase.DiskPressure{
				Sessions:     coord,
				Logger:       logger,
				DataDir:      cfg.TorrentDataDir,
				MinFreeBytes: cfg.MinFreeBytes,
				ResumeBytes:  cfg.DiskResumeBytes,
				Interval:     cfg.DiskPollInterval,
			}.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", slog.String("error", err.Error()))
		}
		hub.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server error", slog.String("error", err.Error()))
	}

	if n := coord.AbortActive(usecase.ErrShuttingDown); n > 0 {
		logger.Info("aborted running sessions", slog.Int("count", n))
	}
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
