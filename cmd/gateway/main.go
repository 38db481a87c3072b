// Package main is the entry point for the AI provider gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gateway "github.com/000haoji/deep-student-sub000"
	"github.com/000haoji/deep-student-sub000/internal/config"
	"github.com/000haoji/deep-student-sub000/internal/health"
	"github.com/000haoji/deep-student-sub000/internal/observability"
	"github.com/000haoji/deep-student-sub000/internal/routing"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfgManager, err := config.NewManager(*configPath, slog.Default())
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		JSONFormat: cfg.Logging.Format == "json",
	})
	slog.SetDefault(logger)

	logger.Info("starting ai gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build dependencies", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	gw, err := gateway.New(
		gateway.WithLogger(logger),
		gateway.WithRegistryStore(deps.Registry),
		gateway.WithCallLogStore(deps.CallLog),
		gateway.WithHealthStore(deps.Health),
		gateway.WithSecretResolver(deps.Secrets),
		gateway.WithTracer(tp.Tracer()),
		gateway.WithHealthConfig(health.Config{
			TTL:          cfg.Health.TTL,
			ProbeTimeout: cfg.Health.ProbeTimeout,
			Interval:     cfg.Health.ProbeInterval,
			Concurrency:  cfg.Health.Concurrency,
		}),
		gateway.WithRoutingConfig(routing.Config{
			RequestTimeout:    cfg.Routing.RequestTimeout,
			BackoffUnit:       cfg.Routing.BackoffUnit,
			DefaultMaxRetries: cfg.Routing.DefaultMaxRetries,
		}),
		gateway.WithRegistryCacheTTL(cfg.Routing.RegistryCacheTTL),
	)
	if err != nil {
		logger.Error("failed to create gateway", "error", err)
		os.Exit(1)
	}
	defer gw.Close()

	gw.StartHealthMonitor(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /models", listModelsHandler(gw, logger))
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}
	cfgManager.Close()
	logger.Info("server stopped")
}

const version = "0.1.0"
