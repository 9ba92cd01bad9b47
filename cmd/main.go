// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/petrikoro/crewcall/internal/config"
	"github.com/petrikoro/crewcall/internal/database"
	"github.com/petrikoro/crewcall/internal/engine"
	"github.com/petrikoro/crewcall/internal/handler"
	"github.com/petrikoro/crewcall/internal/ratelimit"
	"github.com/petrikoro/crewcall/internal/repository"
	"github.com/petrikoro/crewcall/internal/service"
)

func main() {
	ctx := context.Background()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}

	// ── 1. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.DSN())
	if err != nil {
		log.Error("database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		log.Error("migrate", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres", "db", cfg.DB.Name)

	// ── 2. Wire up layers ────────────────────────────────────────────────
	eventRepo := repository.NewEventRepository(pool)
	ledger := repository.NewLedger(pool, eventRepo)
	eng := engine.New(ledger, engine.Options{
		MaxAttempts: cfg.CommitMaxAttempts,
		BackoffBase: cfg.CommitBackoffBase,
		Logger:      log,
	})
	eventSvc := service.NewEventService(eventRepo, eng)
	eventHandler := handler.NewEventHandler(eventSvc)

	// Respond-route limiter: per-process buckets by default, Redis fixed
	// windows when replicas share traffic.
	var limiterStore ratelimit.LimiterStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiterStore = ratelimit.NewRedisStore(rdb, cfg.RespondRateBurst, time.Second)
		log.Info("rate limiter using redis", "addr", cfg.RedisAddr)
	} else {
		limiterStore = ratelimit.NewMemoryStore(cfg.RespondRateRPS, cfg.RespondRateBurst)
	}
	respondLimiter := ratelimit.Middleware(
		limiterStore,
		ratelimit.HeaderKeyFunc(handler.UserKeyHeader),
		log,
	)

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handler.Logger(log))
	r.Use(handler.CORS)

	r.Get("/health", handler.HealthCheck)

	r.Route("/events", func(r chi.Router) {
		r.Post("/", eventHandler.CreateEvent)
		r.Get("/", eventHandler.ListEvents)
		r.Get("/{id}", eventHandler.GetEvent)
		r.With(respondLimiter).Post("/{id}/respond", eventHandler.Respond)
		r.Get("/{id}/responses", eventHandler.ListResponses)
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
