package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lunarhall/parley/internal/api"
	"github.com/lunarhall/parley/internal/auth"
	"github.com/lunarhall/parley/internal/config"
	"github.com/lunarhall/parley/internal/database"
	"github.com/lunarhall/parley/internal/middleware"
	"github.com/lunarhall/parley/internal/presence"
	"github.com/lunarhall/parley/internal/pubsub"
	"github.com/lunarhall/parley/internal/rooms"
	"github.com/lunarhall/parley/internal/server"
	"github.com/lunarhall/parley/internal/websocket"
)

func main() {
	// Structured logging from the start
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create context for initialization
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	if err := database.EnsureSchema(ctx, db, cfg.MigrationsDir); err != nil {
		slog.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := database.NewUserRepository(db)
	roomRepo := database.NewRoomRepository(db)

	// Initialize token service (use a default key for dev if not set)
	jwtKey := cfg.JWTSigningKey
	if jwtKey == "" {
		if cfg.IsDevelopment() {
			jwtKey = "dev-signing-key-do-not-use-in-production!!" // 44 chars
			slog.Warn("using default JWT signing key - DO NOT USE IN PRODUCTION")
		} else {
			slog.Error("JWT_SIGNING_KEY is required in production")
			os.Exit(1)
		}
	}

	tokenService, err := auth.NewTokenService(jwtKey)
	if err != nil {
		slog.Error("failed to create token service", "error", err)
		os.Exit(1)
	}

	// Initialize auth service
	authService := auth.NewService(userRepo, tokenService)

	// Initialize PubSub (in-memory for single instance, Redis for horizontal scaling)
	var ps pubsub.PubSub
	if cfg.PubSubType == "redis" {
		ps, err = pubsub.NewRedisPubSub(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("using redis pubsub", "url", cfg.RedisURL)
	} else {
		ps = pubsub.NewMemoryPubSub()
	}
	defer ps.Close()

	// The hub is the presence notifier, and the presence manager and room
	// service both hang off it, so construction happens in two steps.
	wsHub := websocket.NewHub(authService, ps, logger)
	presenceManager := presence.NewManager(userRepo, userRepo, wsHub, logger)
	roomService := rooms.NewService(roomRepo, presenceManager, logger)
	wsHub.Attach(presenceManager, roomService)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go wsHub.Run(hubCtx)
	wsHandler := websocket.NewHandler(wsHub, logger)

	// Initialize handlers
	authHandler := api.NewAuthHandler(authService, userRepo, logger)
	userHandler := api.NewUserHandler(userRepo, presenceManager.Users(), logger)
	roomHandler := api.NewRoomHandler(roomService, logger)

	rateLimiter := middleware.NewRateLimiter(cfg.APIRequestsPerMin)

	// Determine static files directory (relative to working dir in dev, configurable in prod)
	staticDir := "../frontend"
	if cfg.StaticDir != "" {
		staticDir = cfg.StaticDir
	}

	// Create and start server
	deps := &server.Dependencies{
		DB:          db,
		UserRepo:    userRepo,
		RoomRepo:    roomRepo,
		AuthService: authService,
		AuthHandler: authHandler,
		UserHandler: userHandler,
		RoomHandler: roomHandler,
		WSHandler:   wsHandler,
		RateLimiter: rateLimiter,
		StaticDir:   staticDir,
		Logger:      logger,
	}

	srv := server.New(cfg, deps)

	// Graceful shutdown setup
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-shutdownCtx.Done()
	slog.Info("shutting down gracefully...")

	// Give active connections 10 seconds to finish
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	hubCancel()
	presenceManager.Close()
	wsHub.Close()

	slog.Info("server stopped")
}
