package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lunarhall/parley/internal/api"
	"github.com/lunarhall/parley/internal/auth"
	"github.com/lunarhall/parley/internal/config"
	"github.com/lunarhall/parley/internal/database"
	"github.com/lunarhall/parley/internal/middleware"
	"github.com/lunarhall/parley/internal/websocket"
)

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	DB          *database.DB
	UserRepo    *database.UserRepository
	RoomRepo    *database.RoomRepository
	AuthService *auth.Service
	AuthHandler *api.AuthHandler
	UserHandler *api.UserHandler
	RoomHandler *api.RoomHandler
	WSHandler   *websocket.Handler
	RateLimiter *middleware.RateLimiter
	StaticDir   string
	Logger      *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	mux := http.NewServeMux()

	// Register routes
	registerRoutes(mux, cfg, deps)

	// Wrap with middleware
	handler := chainMiddleware(mux,
		requestIDMiddleware,
		corsMiddleware(cfg),
		loggingMiddleware(deps.Logger),
		recoverMiddleware(deps.Logger),
	)

	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func registerRoutes(mux *http.ServeMux, cfg *config.Config, deps *Dependencies) {
	// Health check - essential for docker, k8s, load balancers
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Ready check - verifies DB connectivity
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.DB.Health(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","error":"database unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	authMiddleware := auth.Middleware(deps.AuthService)
	optionalAuth := auth.OptionalMiddleware(deps.AuthService)

	// Protected routes also get per-user rate limiting
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(deps.RateLimiter.Middleware(h))
	}

	// =========================================================================
	// Auth routes (public)
	// =========================================================================
	mux.HandleFunc("POST /auth/register", deps.AuthHandler.Register)
	mux.HandleFunc("POST /auth/login", deps.AuthHandler.Login)
	mux.HandleFunc("POST /auth/logout", deps.AuthHandler.Logout)
	mux.Handle("GET /auth/me", authMiddleware(http.HandlerFunc(deps.AuthHandler.Me)))

	// =========================================================================
	// User routes
	// =========================================================================
	mux.HandleFunc("GET /users/search", deps.UserHandler.Search) // public search
	mux.Handle("GET /users/me", authMiddleware(http.HandlerFunc(deps.UserHandler.GetMe)))
	mux.Handle("PUT /users/me", protected(deps.UserHandler.UpdateProfile))
	mux.HandleFunc("GET /users/{username}", deps.UserHandler.GetByUsername)

	// =========================================================================
	// Room routes. Reads work unauthenticated but see a sanitized view, so
	// auth is optional there; mutations and history require auth.
	// =========================================================================
	mux.Handle("GET /rooms", optionalAuth(http.HandlerFunc(deps.RoomHandler.List)))
	mux.Handle("POST /rooms", protected(deps.RoomHandler.Create))
	mux.Handle("GET /rooms/mine", authMiddleware(http.HandlerFunc(deps.RoomHandler.Mine)))
	mux.Handle("GET /rooms/slug/{slug}", optionalAuth(http.HandlerFunc(deps.RoomHandler.GetBySlug)))
	mux.Handle("GET /rooms/{id}", optionalAuth(http.HandlerFunc(deps.RoomHandler.Get)))
	mux.Handle("PUT /rooms/{id}", protected(deps.RoomHandler.Update))
	mux.Handle("DELETE /rooms/{id}", protected(deps.RoomHandler.Archive))
	mux.Handle("POST /rooms/{id}/join", protected(deps.RoomHandler.Join))
	mux.HandleFunc("GET /rooms/{id}/users", deps.RoomHandler.Users)
	mux.Handle("GET /rooms/{id}/messages", authMiddleware(http.HandlerFunc(deps.RoomHandler.Messages)))

	// =========================================================================
	// WebSocket route
	// =========================================================================
	mux.Handle("GET /ws", deps.WSHandler)

	// =========================================================================
	// Static files (frontend) - serve at root
	// =========================================================================
	staticFS := http.FileServer(http.Dir(deps.StaticDir))
	mux.Handle("GET /", staticFS)
}
