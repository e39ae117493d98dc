// Package main is the entry point for the webhook retry worker. It drains
// the durable retry queue on an interval, independently of the API server.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inkmark/inkmark/internal/config"
	"github.com/inkmark/inkmark/internal/db"
	"github.com/inkmark/inkmark/internal/health"
	"github.com/inkmark/inkmark/internal/middleware"
	"github.com/inkmark/inkmark/internal/webhook"
)

func main() {
	configFile := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Inkmark Webhook Retry Worker")
		fmt.Println()
		fmt.Println("Usage: retryworker [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, cfgErrs := config.Load(*configFile)
	if cfg == nil {
		for _, err := range cfgErrs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	// The worker has no use for JWT settings; only the database matters here.
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required: the retry queue lives in Postgres")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	whMetrics := webhook.NewMetrics()
	if err := whMetrics.Register(registry); err != nil {
		logger.Error("failed to register webhook metrics", "error", err)
		os.Exit(1)
	}

	subsRepo := webhook.NewPostgresSubscriptionRepository(conn, logger)
	deliveryRepo := webhook.NewPostgresDeliveryRepository(conn)
	retryRepo := webhook.NewPostgresRetryRepository(conn)

	dispatcher := webhook.NewDispatcher(subsRepo, deliveryRepo, retryRepo, webhook.DispatcherConfig{
		Client:  &http.Client{Timeout: cfg.WebhookTimeout()},
		Logger:  logger,
		Metrics: whMetrics,
	})
	worker := webhook.NewRetryWorker(dispatcher, logger, webhook.RetryWorkerConfig{
		Interval: cfg.WebhookRetryInterval(),
	})

	// Small ops surface: liveness and metrics only.
	dbChecker := health.NewDBChecker(conn)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, checkCancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer checkCancel()

		w.Header().Set("Content-Type", "application/json")
		if err := dbChecker.HealthCheck(checkCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting worker ops server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server error", "error", err)
			os.Exit(1)
		}
	}()

	worker.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down retry worker...")
	worker.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server forced to shutdown", "error", err)
	}

	logger.Info("retry worker stopped")
}
