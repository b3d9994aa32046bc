package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quickmoney/lendchat/internal/api"
	"github.com/quickmoney/lendchat/internal/auth"
	"github.com/quickmoney/lendchat/internal/chat"
	"github.com/quickmoney/lendchat/internal/config"
	"github.com/quickmoney/lendchat/internal/database"
	"github.com/quickmoney/lendchat/internal/middleware"
	redisc "github.com/quickmoney/lendchat/internal/redis"
)

// sharedOnline answers /api/chat/online from redis, falling back to this
// instance's connections when redis cannot be reached.
type sharedOnline struct {
	presence *redisc.Presence
	local    *chat.Hub
}

func (o sharedOnline) Online() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ids, err := o.presence.Online(ctx)
	if err != nil {
		slog.Warn("shared presence unavailable", "error", err)
		return o.local.Online()
	}
	return ids
}

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	slog.Info("starting chat server", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var store database.Store
	if cfg.DatabaseURL != "" {
		db, err := database.InitDB(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to init database", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")

		if err := database.RunMigrations(ctx, db); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("database migrations complete")
		store = database.NewPostgresStore(db)
	} else {
		slog.Warn("DATABASE_URL not set, keeping messages in memory")
		store = database.NewMemoryStore()
	}
	defer store.Close()

	// Initialize Redis
	hubOpts := chat.Options{Logger: logger}
	var presence *redisc.Presence
	if cfg.RedisURL != "" {
		redisClient, err := redisc.InitRedis(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to init Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.Info("connected to Redis")

		presence = redisc.NewPresence(redisClient)
		hubOpts.Fanout = redisc.NewFanout(redisClient)
		hubOpts.Presence = presence
	}

	// Create WebSocket hub
	hub := chat.NewHub(hubOpts)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	sendLimiter := middleware.NewLimiterStore(cfg.SendPerMinute, 10, 5*time.Minute)
	defer sendLimiter.Stop()
	authLimiter := middleware.NewLimiterStore(cfg.AuthPerMinute, 5, 5*time.Minute)
	defer authLimiter.Stop()

	deps := api.Deps{
		Store:       store,
		Hub:         hub,
		Tokens:      auth.NewTokenManager(cfg.JWTSecret, 24*time.Hour),
		SendLimiter: sendLimiter,
		AuthLimiter: authLimiter,
		CORSOrigin:  cfg.CORSOrigin,
	}
	if presence != nil {
		deps.Online = sharedOnline{presence: presence, local: hub}
	}

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopHub()
	<-hub.Done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}
