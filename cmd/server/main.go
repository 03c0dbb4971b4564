package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"

	"github.com/genesis-music/auth-service/internal/audit"
	"github.com/genesis-music/auth-service/internal/config"
	"github.com/genesis-music/auth-service/internal/directory"
	"github.com/genesis-music/auth-service/internal/handlers"
	"github.com/genesis-music/auth-service/internal/ledger"
	"github.com/genesis-music/auth-service/internal/logger"
	"github.com/genesis-music/auth-service/internal/middleware"
	"github.com/genesis-music/auth-service/internal/telemetry"
	"github.com/genesis-music/auth-service/internal/token"
)

const serviceName = "auth-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewProductionLogger(cfg.ServerDebugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()

	zapLogger.Info("starting_server",
		zap.String("server_port", cfg.ServerPort),
		zap.String("ledger_backend", cfg.LedgerBackend),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	// Tracing (optional).
	if cfg.OTELEnabled && cfg.OTELEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), serviceName, cfg.OTELEndpoint)
		if err != nil {
			zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
					zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
				}
			}()
			zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	// Shared cache: rate-limit counters and, by default, the refresh ledger.
	// Constructed once here, closed once at shutdown.
	store, err := middleware.NewStore(cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_redis")

	// Refresh ledger.
	var led ledger.Ledger
	switch cfg.LedgerBackend {
	case "postgres":
		pg, err := ledger.NewPostgresLedger(cfg.DatabaseURL)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_postgres_ledger", zap.Error(err))
		}
		defer func() {
			if err := pg.Close(); err != nil {
				zapLogger.Warn("failed_to_close_postgres_ledger", zap.Error(err))
			}
		}()
		led = pg
	default:
		// Redis ledger shares the rate-limit store connection; the store's
		// deferred Close covers it.
		led = ledger.NewRedisLedger(store.Client())
	}
	zapLogger.Info("ledger_ready", zap.String("backend", cfg.LedgerBackend))

	// User directory for refresh-time profile lookups.
	dir, err := directory.NewPostgresDirectory(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_user_directory", zap.Error(err))
	}
	defer func() {
		if err := dir.Close(); err != nil {
			zapLogger.Warn("failed_to_close_user_directory", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_user_directory")

	// Audit event publisher (optional).
	var events audit.Publisher = audit.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		pub, err := audit.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_rabbitmq", zap.Error(err))
		}
		defer func() {
			if err := pub.Close(); err != nil {
				zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
			}
		}()
		events = pub
		zapLogger.Info("connected_to_rabbitmq")
	} else {
		zapLogger.Warn("audit_event_publishing_disabled")
	}

	// Token service.
	tokens, err := token.NewService(token.Config{
		Issuer:        cfg.TokenIssuer,
		AccessSecret:  []byte(cfg.AccessTokenSecret),
		RefreshSecret: []byte(cfg.RefreshTokenSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	}, led, dir, events, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_create_token_service", zap.Error(err))
	}

	// Handlers.
	authHandler := handlers.NewAuthHandler(tokens, zapLogger)
	healthChecker := handlers.NewHealthChecker(store, led, events)

	// Rate-limit policies: a wide default for general traffic and a strict
	// one for sensitive operations.
	defaultLimit := middleware.RateLimit(store, middleware.Policy{
		Window:  cfg.RateLimitWindow,
		Max:     cfg.RateLimitMax,
		Message: "Too many requests, please try again later",
	}, zapLogger)
	strictLimit := middleware.RateLimit(store, middleware.Policy{
		Window:  cfg.StrictRateLimitWindow,
		Max:     cfg.StrictRateLimitMax,
		Message: "Too many attempts, please try again later",
	}, zapLogger)

	authGate := middleware.Auth(tokens, zapLogger)

	// Router. Note: gorilla/mux runs Use() middleware in registration order.
	r := mux.NewRouter()

	if cfg.OTELEnabled {
		r.Use(otelmux.Middleware(serviceName))
	}
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORS(cfg.FrontendURL))
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	r.Use(middleware.ContentType)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Audit(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")

	authRouter := r.PathPrefix("/api/v1/auth").Subrouter()

	// Refresh is unauthenticated by nature and a prime brute-force target:
	// strict policy, keyed by client IP.
	refreshRouter := authRouter.PathPrefix("").Subrouter()
	refreshRouter.Use(strictLimit)
	authHandler.RegisterPublicRoutes(refreshRouter)

	// Protected routes: rate limiting runs after auth so the counter is
	// keyed by user identity rather than IP.
	protectedRouter := authRouter.PathPrefix("").Subrouter()
	protectedRouter.Use(authGate)
	protectedRouter.Use(defaultLimit)
	authHandler.RegisterProtectedRoutes(protectedRouter)

	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Fatal("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}
