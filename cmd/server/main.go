package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hookline/hookline/internal/clock"
	"github.com/hookline/hookline/internal/normalize"
	"github.com/hookline/hookline/internal/server/handlers"
	"github.com/hookline/hookline/internal/server/hub"
	"github.com/hookline/hookline/internal/server/jwt"
	"github.com/hookline/hookline/internal/server/middleware"
	"github.com/hookline/hookline/internal/server/registry"
	"github.com/hookline/hookline/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

type config struct {
	addr           string
	dbPath         string
	logLevel       string
	overflowPolicy string
	ingestToken    string
	jwtSecret      string
	bufferSize     int
	rateLimit      int
	tokenTTL       time.Duration
	retention      time.Duration
	sweepInterval  time.Duration
}

func parseConfig() (*config, error) {
	cfg := &config{}

	flag.StringVar(&cfg.addr, "addr", envOr("HOOKLINE_ADDR", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.dbPath, "db", envOr("HOOKLINE_DB", "hookline.db"), "Path to SQLite database")
	flag.StringVar(&cfg.logLevel, "log-level", envOr("HOOKLINE_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.overflowPolicy, "overflow", envOr("HOOKLINE_OVERFLOW", "drop-oldest"),
		"Slow consumer policy (drop-oldest, disconnect)")
	flag.IntVar(&cfg.bufferSize, "buffer", hub.DefaultBufferSize, "Per-connection outbound buffer size")
	flag.IntVar(&cfg.rateLimit, "rate-limit", 100, "Ingest requests per minute per source, 0 disables")
	flag.DurationVar(&cfg.tokenTTL, "token-ttl", 24*time.Hour, "Consumer token lifetime")
	flag.DurationVar(&cfg.retention, "retention", 0, "Event retention horizon, 0 keeps everything")
	flag.DurationVar(&cfg.sweepInterval, "sweep-interval", time.Hour, "Retention sweep period")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// Secrets only come from the environment, never from flags.
	cfg.ingestToken = os.Getenv("HOOKLINE_INGEST_TOKEN")
	if cfg.ingestToken == "" {
		return nil, errors.New("HOOKLINE_INGEST_TOKEN is required")
	}
	cfg.jwtSecret = os.Getenv("HOOKLINE_JWT_SECRET")
	if cfg.jwtSecret == "" {
		return nil, errors.New("HOOKLINE_JWT_SECRET is required")
	}

	if !hub.ValidPolicy(cfg.overflowPolicy) {
		return nil, fmt.Errorf("unknown overflow policy %q", cfg.overflowPolicy)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.logLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, cfg.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	normalizer, err := normalize.New(logger)
	if err != nil {
		return fmt.Errorf("failed to build normalizer: %w", err)
	}

	clk := clock.System()
	reg := registry.New(store, logger, clk)
	broadcastHub := hub.New(logger, cfg.bufferSize, hub.OverflowPolicy(cfg.overflowPolicy))
	jwtConfig := jwt.Config{Secret: []byte(cfg.jwtSecret), TokenTTL: cfg.tokenTTL}

	ingestHandler := handlers.NewIngestHandler(logger, normalizer, store, broadcastHub)
	wsHandler := handlers.NewWSHandler(logger, broadcastHub, reg, jwtConfig, clk)
	authHandler := handlers.NewAuthHandler(logger, jwtConfig)
	statsHandler := handlers.NewStatsHandler(logger, reg, store, broadcastHub)
	healthHandler := handlers.NewHealthHandler(logger, Version)

	logging := middleware.LoggingMiddleware(logger)
	recovery := middleware.RecoveryMiddleware(logger)
	ingestAuth := middleware.SharedSecretMiddleware(logger, cfg.ingestToken)

	ingest := http.Handler(http.HandlerFunc(ingestHandler.HandleIngest))
	if cfg.rateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.rateLimit, time.Minute, clk, logger)
		ingest = middleware.RateLimitMiddleware(limiter)(ingest)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/ingest", recovery(logging(ingestAuth(ingest))))
	mux.Handle("/api/v1/auth/token", recovery(logging(http.HandlerFunc(authHandler.HandleToken))))
	mux.Handle("/api/v1/stats", recovery(logging(http.HandlerFunc(statsHandler.HandleStats))))
	mux.Handle("/api/v1/ws", recovery(http.HandlerFunc(wsHandler.HandleWS)))
	mux.Handle("/health", http.HandlerFunc(healthHandler.Health))

	server := &http.Server{
		Addr:              cfg.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.retention > 0 {
		go retentionLoop(ctx, logger, clk, store, cfg.retention, cfg.sweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			"addr", cfg.addr, "version", Version, "overflow", cfg.overflowPolicy)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// retentionLoop periodically deletes events past the retention horizon.
func retentionLoop(ctx context.Context, logger *slog.Logger, clk clock.Clock, store *sqlite.Storage, retention, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-clk.After(interval):
		}

		horizon := clk.Now().Add(-retention)
		removed, err := store.SweepOlderThan(ctx, horizon)
		if err != nil {
			logger.Error("Retention sweep failed", "error", err)
			continue
		}
		if removed > 0 {
			logger.Info("Retention sweep removed events", "count", removed, "horizon", horizon)
		}
	}
}

func printVersion() {
	fmt.Printf("Hookline Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
