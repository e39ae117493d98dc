// Package main is the entry point for the API server.
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
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/inkmark/inkmark/internal/api"
	"github.com/inkmark/inkmark/internal/auth"
	"github.com/inkmark/inkmark/internal/config"
	"github.com/inkmark/inkmark/internal/db"
	"github.com/inkmark/inkmark/internal/event"
	"github.com/inkmark/inkmark/internal/health"
	"github.com/inkmark/inkmark/internal/idempotency"
	"github.com/inkmark/inkmark/internal/ledger"
	"github.com/inkmark/inkmark/internal/middleware"
	"github.com/inkmark/inkmark/internal/tracing"
	"github.com/inkmark/inkmark/internal/webhook"
)

func main() {
	configFile := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Inkmark API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
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

	// In development a missing DATABASE_URL falls back to in-memory stores;
	// everywhere else it is fatal.
	fatal := false
	for _, err := range cfgErrs {
		if errors.Is(err, config.ErrMissingDatabaseURL) && cfg.Env == config.DefaultEnv {
			logger.Warn("DATABASE_URL not set, using in-memory stores (data is lost on restart)")
			continue
		}
		logger.Error("invalid configuration", "error", err)
		fatal = true
	}
	if fatal {
		os.Exit(1)
	}

	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx := context.Background()

	// Tracing
	if cfg.TracingEnabled {
		provider, err := tracing.NewProvider(tracing.Config{
			ServiceName:  "inkmark-api",
			Enabled:      true,
			Environment:  cfg.Env,
			ExporterType: "otlp-grpc",
			OTLPEndpoint: cfg.TracingEndpoint,
			SamplingRate: 0.1,
			InsecureMode: cfg.Env == config.DefaultEnv,
		})
		if err != nil {
			logger.Error("failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shut down tracer provider", "error", err)
			}
		}()
	}

	// Storage
	var (
		ledgerRepo   ledger.Repository
		subsRepo     webhook.SubscriptionRepository
		deliveryRepo webhook.DeliveryRepository
		retryRepo    webhook.RetryRepository
		dbChecker    api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		conn, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		ledgerRepo = ledger.NewPostgresRepository(conn, logger)
		subsRepo = webhook.NewPostgresSubscriptionRepository(conn, logger)
		deliveryRepo = webhook.NewPostgresDeliveryRepository(conn)
		retryRepo = webhook.NewPostgresRetryRepository(conn)
		dbChecker = health.NewDBChecker(conn)
	} else {
		ledgerRepo = ledger.NewInMemoryRepository()
		subsRepo = webhook.NewInMemorySubscriptionRepository()
		deliveryRepo = webhook.NewInMemoryDeliveryRepository()
		retryRepo = webhook.NewInMemoryRetryRepository()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register HTTP metrics", "error", err)
		os.Exit(1)
	}
	whMetrics := webhook.NewMetrics()
	if err := whMetrics.Register(registry); err != nil {
		logger.Error("failed to register webhook metrics", "error", err)
		os.Exit(1)
	}

	// Rate limiting: Redis-backed when configured, per-process otherwise
	var (
		rateStore    middleware.RateLimitStore
		redisChecker api.HealthChecker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		rateStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(httpMetrics)
		redisChecker = health.NewRedisChecker(redisClient)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				memStore.Cleanup()
			}
		}()
		rateStore = memStore
	}

	// Webhook dispatch and retry
	dispatcher := webhook.NewDispatcher(subsRepo, deliveryRepo, retryRepo, webhook.DispatcherConfig{
		Client:  &http.Client{Timeout: cfg.WebhookTimeout()},
		Logger:  logger,
		Metrics: whMetrics,
	})
	retryWorker := webhook.NewRetryWorker(dispatcher, logger, webhook.RetryWorkerConfig{
		Interval: cfg.WebhookRetryInterval(),
	})
	retryWorker.Start(ctx)
	defer retryWorker.Stop()

	// Audit ledger and event fan-out
	ledgerSvc, err := ledger.NewService(ledgerRepo, logger)
	if err != nil {
		logger.Error("failed to create ledger service", "error", err)
		os.Exit(1)
	}
	broadcaster := event.NewWSBroadcaster()
	emitter := event.NewEmitter(ledgerSvc, dispatcher, broadcaster, logger)

	jwtService := auth.NewJWTServiceWithRotation(cfg.GetJWTSecrets())

	idemRepo := idempotency.NewInMemoryRepository()
	idemStop := make(chan struct{})
	defer close(idemStop)
	go idempotency.RunPeriodicCleanup(idemRepo, time.Hour, idempotency.DefaultExpiry, idemStop)

	handler := buildHandler(routerDeps{
		cfg:          cfg,
		logger:       logger,
		registry:     registry,
		httpMetrics:  httpMetrics,
		rateStore:    rateStore,
		jwtService:   jwtService,
		subsRepo:     subsRepo,
		ledgerSvc:    ledgerSvc,
		emitter:      emitter,
		broadcaster:  broadcaster,
		idemRepo:     idemRepo,
		dbChecker:    dbChecker,
		redisChecker: redisChecker,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

type routerDeps struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *prometheus.Registry
	httpMetrics  *middleware.Metrics
	rateStore    middleware.RateLimitStore
	jwtService   *auth.JWTService
	subsRepo     webhook.SubscriptionRepository
	ledgerSvc    *ledger.Service
	emitter      *event.Emitter
	broadcaster  *event.WSBroadcaster
	idemRepo     idempotency.Repository
	dbChecker    api.HealthChecker
	redisChecker api.HealthChecker
}

// buildHandler wires handlers, per-route middleware and the global chain.
func buildHandler(deps routerDeps) http.Handler {
	subH := api.NewSubscriptionHandlers(deps.subsRepo)
	trailH := api.NewTrailHandlers(deps.ledgerSvc)
	eventH := api.NewEventHandlers(deps.emitter)
	streamH := api.NewEventStreamHandlers(deps.broadcaster)
	healthH := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:      deps.dbChecker,
		RedisChecker:   deps.redisChecker,
		MetricsEnabled: true,
	})

	authRequired := middleware.Auth(deps.jwtService)
	exportLimiter := middleware.RateLimiter(deps.rateStore, middleware.DefaultExportLimit(), middleware.UserKeyFunc(), deps.httpMetrics)
	idemRepo := deps.idemRepo
	if idemRepo == nil {
		idemRepo = idempotency.NewInMemoryRepository()
	}
	idempotent := middleware.IdempotencyMiddleware(idemRepo, map[string]bool{
		"/documents/{id}/events": true,
	})

	webhooksCollection := authRequired(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			subH.ListSubscriptions(w, r)
		case http.MethodPost:
			subH.CreateSubscription(w, r)
		default:
			writeMethodNotAllowed(w, r)
		}
	}))

	webhooksItem := authRequired(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/rotate") {
			if r.Method != http.MethodPost {
				writeMethodNotAllowed(w, r)
				return
			}
			subH.RotateSecret(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			subH.GetSubscription(w, r)
		case http.MethodPut, http.MethodPatch:
			subH.UpdateSubscription(w, r)
		case http.MethodDelete:
			subH.DeleteSubscription(w, r)
		default:
			writeMethodNotAllowed(w, r)
		}
	}))

	getTrail := authRequired(http.HandlerFunc(trailH.GetTrail))
	exportTrail := authRequired(exportLimiter(http.HandlerFunc(trailH.ExportTrail)))
	ingestEvent := authRequired(idempotent(http.HandlerFunc(eventH.IngestEvent)))

	documents := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/trail/export"):
			requireMethod(w, r, http.MethodGet, exportTrail)
		case strings.HasSuffix(path, "/trail"):
			requireMethod(w, r, http.MethodGet, getTrail)
		case strings.HasSuffix(path, "/events/ws"):
			requireMethod(w, r, http.MethodGet, http.HandlerFunc(streamH.SubscribeToDocumentEvents))
		case strings.HasSuffix(path, "/events"):
			requireMethod(w, r, http.MethodPost, ingestEvent)
		default:
			writeNotFound(w, r)
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/webhooks", webhooksCollection)
	mux.Handle("/webhooks/", webhooksItem)
	mux.Handle("/documents/", documents)
	mux.HandleFunc("/health", healthH.Health)
	mux.HandleFunc("/ready", healthH.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeNotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"inkmark-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Global chain: RequestID -> Logging -> HTTPMetrics -> RateLimiter
	globalLimiter := middleware.RateLimiter(deps.rateStore, middleware.DefaultGlobalLimit(), middleware.UserKeyFunc(), deps.httpMetrics)
	handler := middleware.RequestID(
		middleware.Logging(deps.logger)(
			middleware.HTTPMetrics(deps.httpMetrics)(
				globalLimiter(mux),
			),
		),
	)
	if len(deps.cfg.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins:   deps.cfg.CORSAllowedOrigins,
			AllowCredentials: true,
		})(handler)
	}
	if deps.cfg.ProfilingEnabled {
		handler = middleware.Profiling(middleware.ProfilingConfig{
			Enabled:     true,
			Environment: deps.cfg.Env,
		})(handler)
	}
	if deps.cfg.TracingEnabled {
		handler = middleware.Tracing("inkmark-api")(handler)
	}
	return handler
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string, next http.Handler) {
	if r.Method != method {
		writeMethodNotAllowed(w, r)
		return
	}
	next.ServeHTTP(w, r)
}

func writeNotFound(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
	api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeBadRequest)
	api.WriteError(w, ctx, http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
}
