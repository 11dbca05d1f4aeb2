// Parley - Conversational Orchestration Engine
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkrasnov/parley/internal/action"
	"github.com/dkrasnov/parley/internal/api"
	"github.com/dkrasnov/parley/internal/backend"
	"github.com/dkrasnov/parley/internal/config"
	"github.com/dkrasnov/parley/internal/gateway"
	"github.com/dkrasnov/parley/internal/identity"
	"github.com/dkrasnov/parley/internal/middleware"
	"github.com/dkrasnov/parley/internal/observability"
	"github.com/dkrasnov/parley/internal/ratelimit"
	"github.com/dkrasnov/parley/internal/reasoning"
	"github.com/dkrasnov/parley/internal/session"
	"github.com/dkrasnov/parley/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Rate limiter: Redis when configured, in-process otherwise.
	limiterCfg := ratelimit.Config{
		MessagesPerWindow: int64(cfg.RateLimit.MessagesPerWindow),
		TokensPerWindow:   int64(cfg.RateLimit.TokensPerWindow),
		Window:            cfg.RateLimit.Window,
	}
	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Redis health check failed", "error", err, "addr", cfg.RedisAddr)
			os.Exit(1)
		}
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				slog.Error("Failed to close redis client", "error", closeErr)
			}
		}()
		limiter = ratelimit.NewRedisLimiter(rdb, limiterCfg)
		slog.Info("Rate limiter initialized", "backend", "redis", "addr", cfg.RedisAddr)
	} else {
		mem := ratelimit.NewMemoryLimiter(limiterCfg)
		mem.StartGC(ctx, 5*time.Minute)
		limiter = mem
		slog.Info("Rate limiter initialized", "backend", "memory")
	}

	metrics := observability.NewMetrics()

	// Reasoning backend and action registry.
	reasoningClient := reasoning.NewHTTPClient(cfg.ReasoningURL, cfg.ReasoningAPIKey, 30*time.Second)

	registry := action.NewRegistry(logger)
	domainBackend := backend.NewHTTPClient(cfg.DomainBackendURL, 30*time.Second)
	if err := action.RegisterBuiltins(registry, domainBackend); err != nil {
		slog.Error("Failed to register actions", "error", err)
		os.Exit(1)
	}
	registry.Seal()
	slog.Info("Action registry sealed", "actions", registry.Len())

	resolver := reasoning.NewResolver(reasoningClient, registry, reasoning.DefaultResolverConfig(), logger)
	resolver.OnRetry(func() { metrics.ReasoningRetried("classify") })

	summarizer := session.NewSummarizer(repo, reasoningClient, session.SummarizerConfig{
		TokenBudget: cfg.Context.TokenBudget,
		KeepRecent:  cfg.Context.KeepRecent,
	}, logger)

	orch := session.NewOrchestrator(
		repo,
		limiter,
		resolver,
		registry,
		reasoningClient,
		summarizer,
		session.DefaultConfig(),
		metrics,
		logger,
	)

	// Initialize handlers.
	connRegistry := gateway.NewConnRegistry()
	chatHandler := gateway.NewHandler(orch, connRegistry, cfg.FrontendURL, cfg.IsDevelopment())
	apiHandler := api.NewHandler(repo, registry)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint.
	r.Get("/ws/chat", chatHandler.ServeHTTP)

	// Create server. WebSocket connections are long-lived, so no write
	// timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start conversation cleanup worker.
	store.StartTTLWorker(ctx, repo, cfg.ConversationTTL, cfg.CleanupInterval, logger)
	slog.Info("Cleanup worker started", "conversation_ttl", cfg.ConversationTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
