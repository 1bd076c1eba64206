// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects stores, services, handlers,
// middleware, and routes. Think of it as the control centre that decides:
//   - Which storage backend holds the data
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	Config → store (sqlite | badger), blob store (fs), notifier (live)
//	       → AuthService, ChatService
//	       → AuthHandler, ChatHandler, ws.Handler
//	       → routes
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/chef-chat/internal/auth"
	blobfs "github.com/sakif/chef-chat/internal/blob/fs"
	"github.com/sakif/chef-chat/internal/handler"
	"github.com/sakif/chef-chat/internal/live"
	"github.com/sakif/chef-chat/internal/metrics"
	"github.com/sakif/chef-chat/internal/middleware"
	"github.com/sakif/chef-chat/internal/repository"
	badgerRepo "github.com/sakif/chef-chat/internal/repository/badger"
	sqliteRepo "github.com/sakif/chef-chat/internal/repository/sqlite"
	"github.com/sakif/chef-chat/internal/service"
	"github.com/sakif/chef-chat/internal/ws"
)

// Storage drivers accepted in Config.StoreDriver.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Config holds server configuration. cmd/server fills it from the environment.
type Config struct {
	Port int

	StoreDriver string // "sqlite" (default) or "badger"
	DBPath      string // sqlite file, ":memory:" for a throwaway store
	BadgerDir   string

	BlobDir        string
	PublicURL      string // base URL clients reach this server on, used in blob URLs
	UploadMaxBytes int64

	JWTSecret          string
	GitHubClientID     string // empty disables GitHub sign-in
	GitHubClientSecret string
	GitHubCallbackURL  string

	AllowedOrigins []string
}

// backend is what a storage driver has to provide: the chat records and the
// identity records.
type backend interface {
	repository.Store
	repository.UserRepository
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store and the notifier. On shutdown the notifier is
// closed first (every live subscription ends), then the store.
type Server struct {
	router   *chi.Mux
	config   Config
	logger   *slog.Logger
	store    backend
	notifier *live.Notifier
	metrics  *metrics.Metrics
}

// New creates a new Server with the given config and wires every dependency.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	// === CREATE STORE ===
	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		store:    store,
		notifier: live.New(logger, live.WithMetrics(m)),
		metrics:  m,
	}

	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

func openStore(cfg Config, logger *slog.Logger) (backend, error) {
	switch cfg.StoreDriver {
	case "", DriverSQLite:
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return db, nil
	case DriverBadger:
		db, err := badgerRepo.New(cfg.BadgerDir, logger)
		if err != nil {
			return nil, fmt.Errorf("opening badger store: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /api/channels                → createChannel
// GET    /api/channels                → listChannels
// GET    /api/channels/{id}/messages  → listMessages
// POST   /api/channels/{id}/messages  → sendMessage
// GET    /api/profiles/{userId}       → getProfile
// PUT    /api/profile                 → upsertProfile
// POST   /api/profile/avatar-upload   → requestAvatarUpload
// POST   /api/uploads/{handle}        → upload avatar bytes
// GET    /api/live                    → WebSocket live queries
// GET    /api/me                      → current user (auth required)
// GET    /blobs/{ref}                 → download a blob
// /auth/*                             → sign-in, sign-up, logout
// GET    /healthz, GET /metrics       → ops
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info
// 4. Recoverer: catches panics and returns 500 instead of crashing
//
// Everything under /api runs OptionalAuth: a valid token puts the caller in
// the context, no token leaves the request anonymous. Reads are open to
// anyone; the service rejects anonymous writes with 401.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// === AUTH WIRING ===
	tokens, err := auth.NewTokenService(s.config.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	var github *auth.GitHubProvider
	if s.config.GitHubClientID != "" {
		github = auth.NewGitHubProvider(
			s.config.GitHubClientID,
			s.config.GitHubClientSecret,
			s.config.GitHubCallbackURL,
		)
	} else {
		s.logger.Info("GITHUB_CLIENT_ID not set, GitHub sign-in disabled")
	}

	accounts := service.NewAuthService(s.store, tokens, auth.NewPasswordService(), s.logger)
	authHandler := handler.NewAuthHandler(github, tokens, accounts, s.logger)

	// === CHAT WIRING ===
	var blobOpts []blobfs.Option
	if s.config.UploadMaxBytes > 0 {
		blobOpts = append(blobOpts, blobfs.WithMaxBytes(s.config.UploadMaxBytes))
	}
	blobs, err := blobfs.New(s.config.BlobDir, s.config.PublicURL, s.logger, blobOpts...)
	if err != nil {
		return fmt.Errorf("creating blob store: %w", err)
	}

	chat := service.NewChatService(s.store, auth.ContextIdentity{}, blobs, s.notifier, s.logger,
		service.WithWriteMetrics(s.metrics))
	chatHandler := handler.NewChatHandler(chat, blobs, s.logger)
	liveHandler := ws.New(chat, s.logger, ws.WithAllowedOrigins(s.config.AllowedOrigins))

	// === ROUTES ===
	s.router.Get("/healthz", handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())
	s.router.Get("/blobs/{ref}", chatHandler.HandleBlob)

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/github/login", authHandler.HandleGitHubLogin)
		r.Get("/github/callback", authHandler.HandleGitHubCallback)
		r.Post("/signup", authHandler.HandleSignUp)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.OptionalAuth(tokens))

		r.Post("/channels", chatHandler.HandleCreateChannel)
		r.Get("/channels", chatHandler.HandleListChannels)
		r.Get("/channels/{id}/messages", chatHandler.HandleListMessages)
		r.Post("/channels/{id}/messages", chatHandler.HandleSendMessage)

		r.Get("/profiles/{userId}", chatHandler.HandleGetProfile)
		r.Put("/profile", chatHandler.HandleUpsertProfile)
		r.Post("/profile/avatar-upload", chatHandler.HandleRequestAvatarUpload)
		r.Post("/uploads/{handle}", chatHandler.HandleUpload)

		r.Get("/live", liveHandler.ServeHTTP)

		r.With(auth.RequireAuth(tokens)).Get("/me", authHandler.HandleMe)
	})

	return nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Handler returns the fully wired router. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close ends every live subscription, then closes the store.
func (s *Server) Close() error {
	s.notifier.Close()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the notifier and the store
//
// http.Server.Shutdown does not wait for hijacked connections. Open
// WebSockets lose their subscriptions when the notifier closes and are
// dropped when the process exits.
//
// WriteTimeout applies to plain requests only; a WebSocket sets its own
// deadline on every frame.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("shutdown", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("store", s.storeDescription()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) storeDescription() string {
	if s.config.StoreDriver == DriverBadger {
		return DriverBadger + ":" + s.config.BadgerDir
	}
	return DriverSQLite + ":" + s.config.DBPath
}
