package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ratelimiter/internal/api"
	"ratelimiter/internal/config"
	"ratelimiter/internal/logger"
	"ratelimiter/internal/models"
	"ratelimiter/internal/observability"
	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/stats"
	"ratelimiter/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version information and exit")
	writeConfig = flag.String("write-example-config", "", "Write an example configuration file to this path and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}

	if *writeConfig != "" {
		if err := config.SaveExample(*writeConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	limiter, err := initializeLimiter(cfg)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}
	if c, ok := limiter.(io.Closer); ok {
		defer c.Close()
	}

	recorder, err := initializeStats(cfg)
	if err != nil {
		slog.Error("Failed to initialize stats recorder", "error", err)
		os.Exit(1)
	}
	if c, ok := recorder.(io.Closer); ok {
		defer c.Close()
	}

	var handlerOpts []api.HandlerOption
	if reader, ok := recorder.(stats.Reader); ok {
		handlerOpts = append(handlerOpts, api.WithStats(reader))
	}
	handlers := api.NewHandlers(limiter, ver, handlerOpts...)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	if limiter != nil {
		mwOpts := []ratelimit.MiddlewareOption{
			ratelimit.WithKeyFunc(ratelimit.KeyFromHeader(cfg.Limiter.KeyHeader, cfg.Limiter.TrustForwardedFor)),
		}
		if recorder != nil {
			mwOpts = append(mwOpts, ratelimit.WithRecorder(recorder))
		}
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(limiter, mwOpts...)))
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Starting server", "addr", server.Addr, "tls", cfg.Server.TLSEnabled)

		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeLimiter builds the sliding window limiter, instrumented when
// metrics or tracing are enabled. It returns nil when limiting is disabled.
func initializeLimiter(cfg *models.Config) (ratelimit.Limiter, error) {
	if !cfg.Limiter.Enabled {
		slog.Warn("Rate limiting is disabled")
		return nil, nil
	}

	base, err := ratelimit.NewSlidingWindowLimiter[string](
		cfg.Limiter.MaxRequests,
		cfg.Limiter.Window,
		ratelimit.WithShards(cfg.Limiter.Shards),
	)
	if err != nil {
		return nil, err
	}

	slog.Info("Rate limiter initialized",
		"max_requests", cfg.Limiter.MaxRequests,
		"window", cfg.Limiter.Window,
		"shards", cfg.Limiter.Shards,
		"key_header", cfg.Limiter.KeyHeader)

	if !cfg.Metrics.Enabled && !cfg.Observability.Tracing.Enabled {
		return base, nil
	}

	instrumented, err := observability.NewInstrumentedLimiter(base)
	if err != nil {
		return nil, fmt.Errorf("failed to instrument rate limiter: %w", err)
	}
	return instrumented, nil
}

// initializeStats returns nil when stats are disabled.
func initializeStats(cfg *models.Config) (stats.Recorder, error) {
	if !cfg.Stats.Enabled {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Stats.Redis.DialTimeout+time.Second)
	defer cancel()

	rec, err := stats.NewRecorder(ctx, cfg.Stats)
	if err != nil {
		return nil, err
	}
	slog.Info("Stats recorder initialized", "backend", cfg.Stats.Backend)
	return rec, nil
}
