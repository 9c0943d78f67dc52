package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	"sagastream/api"
	"sagastream/config"
	"sagastream/handlers"
	"sagastream/internal/database"
	"sagastream/services/metadata"
	"sagastream/utils"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)
	log := slog.Default()

	db, err := database.NewDB(database.Config{DatabasePath: cfg.DatabasePath})
	if err != nil {
		log.Error("failed to open cache database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logCacheStats(log, db.Cache)

	// Stale entries never stop a request, they just get replaced; the pruner
	// only keeps the file from growing without bound.
	pruneDone := make(chan struct{})
	go pruneLoop(db.Cache, cfg.CacheTTL, pruneDone)

	svc := metadata.NewService(metadata.Options{
		Store:             db.Cache,
		ResponseTTL:       cfg.CacheTTL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxConcurrent:     cfg.MaxConcurrent,
		DisableRateLimit:  !cfg.RateLimitEnabled,
	})
	h := handlers.NewStreamHandler(svc, cfg.TMDBAPIKey)

	r := utils.NewRouter()
	r.Use(api.RequestLogger())

	// One install polling aggressively should not starve the rest.
	inbound := api.NewIPRateLimiter(rate.Every(100*time.Millisecond), 20)

	r.HandleFunc("/", h.Root).Methods(http.MethodGet)
	r.HandleFunc("/configure", h.Configure).Methods(http.MethodGet)
	r.HandleFunc("/{config}/configure", h.Configure).Methods(http.MethodGet)
	r.HandleFunc("/manifest.json", h.Manifest).Methods(http.MethodGet)
	r.HandleFunc("/{config}/manifest.json", h.Manifest).Methods(http.MethodGet)
	r.HandleFunc("/stream/{type}/{id}.json", api.RateLimitHandlerFunc(inbound, h.Streams)).Methods(http.MethodGet)
	r.HandleFunc("/{config}/stream/{type}/{id}.json", api.RateLimitHandlerFunc(inbound, h.Streams)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.Port, "rateLimit", cfg.RateLimitEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	close(pruneDone)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}

// setupLogging sends structured logs to stdout and a rotating file.
func setupLogging(cfg config.Config) {
	writer := io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename: cfg.LogFile,
		MaxSize:  20, // megabytes
		MaxAge:   cfg.LogMaxAgeDays,
		Compress: true,
	})
	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.LogLevel})
	slog.SetDefault(slog.New(handler))
}

func logCacheStats(log *slog.Logger, cache *database.CacheRepository) {
	stats, err := cache.Stats()
	if err != nil {
		log.Warn("failed to read cache statistics", "error", err)
		return
	}
	log.Info("cache statistics",
		"entries", stats.Entries,
		"collections", stats.Collections,
		"totalBytes", stats.TotalBytes,
	)
}

// pruneLoop evicts entries past the retention window twice a day.
func pruneLoop(cache *database.CacheRepository, retention time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			removed, err := cache.Prune(retention)
			if err != nil {
				slog.Warn("cache prune failed", "error", err)
			} else if removed > 0 {
				slog.Info("pruned expired cache entries", "removed", removed)
			}
		}
	}
}
