// Package server sets up the HTTP router, its middleware and every route.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It decides:
//   - which URL patterns map to which handler functions
//   - what middleware runs on which routes
//   - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// cmd/server builds the database, the token codec and the services, then
// hands them to New in a Deps value. New builds the handlers from the
// services and mounts them. Nothing in here opens a connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/teamspace/internal/auth"
	"github.com/sakif/teamspace/internal/config"
	"github.com/sakif/teamspace/internal/handler"
	"github.com/sakif/teamspace/internal/middleware"
	"github.com/sakif/teamspace/internal/service"
)

// Deps are the collaborators the routes need.
type Deps struct {
	DB        handler.Pinger
	Tokens    *auth.TokenService
	Blacklist auth.Blacklist

	Auth     *service.AuthService
	Access   *service.AccessService
	Projects *service.ProjectService
	Tasks    *service.TaskService

	// GitHub is nil when GitHub login is not configured; its routes are then
	// not mounted.
	GitHub *auth.GitHubProvider
	// RateLimiter is nil when rate limiting is disabled.
	RateLimiter middleware.Counter
}

// Server represents the HTTP server and its router.
type Server struct {
	router *chi.Mux
	config *config.Config
	deps   Deps
	logger *slog.Logger
}

// New builds the router. The returned Server is ready for Handler or Start.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /health
//	POST   /auth/register | /auth/login | /auth/refresh | /auth/logout
//	POST   /auth/password-reset-request | /auth/password-reset
//	GET    /auth/github/login | /auth/github/callback        (when configured)
//	GET    /auth/me, POST /auth/me                           (bearer)
//	POST   /auth/password-change | /auth/revoke-all          (bearer)
//	       /projects/...                                     (bearer)
//	GET    /users, POST /users/{id}/designation              (bearer + manager)
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns an ID used by every log line of the request
//  2. RealIP: rewrites RemoteAddr from X-Forwarded-For (rate-limit key)
//  3. Logger: one line per request with status and timing
//  4. Recoverer: turns panics into 500 instead of crashing
//  5. CORS: answers preflights before authentication sees them
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	respond := handler.NewResponder(s.logger, s.config.Debug)
	validate := handler.NewValidator()

	healthHandler := handler.NewHealthHandler(s.deps.DB, s.logger)
	authHandler := handler.NewAuthHandler(s.deps.Auth, s.deps.GitHub, validate, respond, s.logger)
	projectHandler := handler.NewProjectHandler(s.deps.Projects, s.deps.Tasks, validate, respond, s.logger)
	userHandler := handler.NewUserHandler(s.deps.Auth, validate, respond, s.logger)

	authenticate := auth.Authenticate(s.deps.Tokens, s.deps.Blacklist, s.logger)

	s.router.Get("/health", healthHandler.HandleHealth)

	// === Public auth routes ===
	// These carry their own credentials (password, refresh or reset token)
	// in the body, so they sit outside the authenticator.
	s.router.Route("/auth", func(r chi.Router) {
		r.With(s.limit("register")).Post("/register", authHandler.HandleRegister)
		r.With(s.limit("login")).Post("/login", authHandler.HandleLogin)
		r.Post("/refresh", authHandler.HandleRefresh)
		r.Post("/logout", authHandler.HandleLogout)
		r.With(s.limit("password-reset-request")).Post("/password-reset-request", authHandler.HandlePasswordResetRequest)
		r.Post("/password-reset", authHandler.HandlePasswordReset)

		if s.deps.GitHub != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}

		// === Protected auth routes ===
		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Get("/me", authHandler.HandleMe)
			r.Post("/me", authHandler.HandleUpdateMe)
			r.Post("/password-change", authHandler.HandlePasswordChange)
			r.Post("/revoke-all", authHandler.HandleRevokeAll)
		})
	})

	// === Protected API routes ===
	s.router.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", projectHandler.HandleList)
			r.Post("/", projectHandler.HandleCreate)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", projectHandler.HandleGet)
				r.Put("/", projectHandler.HandleUpdate)
				r.Delete("/", projectHandler.HandleDelete)

				r.Get("/members", projectHandler.HandleListMembers)
				r.Post("/members", projectHandler.HandleAddMember)
				r.Delete("/members/{userId}", projectHandler.HandleRemoveMember)

				r.Get("/tasks", projectHandler.HandleListTasks)
				r.Post("/tasks", projectHandler.HandleCreateTask)
				r.Patch("/tasks/{taskId}", projectHandler.HandleUpdateTask)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(handler.RequireRole(s.deps.Access.RequireManagerRole, respond))
			r.Get("/", userHandler.HandleList)
			r.Post("/{id}/designation", userHandler.HandleSetDesignation)
		})
	})
}

// limit returns the rate-limit middleware for a route, or a pass-through
// when no limiter is configured.
func (s *Server) limit(name string) func(http.Handler) http.Handler {
	if s.deps.RateLimiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(s.deps.RateLimiter, name, s.config.RateLimitMax, s.config.RateLimitWindow, s.logger)
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. stop accepting new connections
//  2. wait up to 30s for in-flight requests to finish
//
// Closing the database is the caller's job; it opened it.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("dbDriver", s.config.DBDriver),
			slog.Bool("githubLogin", s.deps.GitHub != nil),
			slog.Bool("rateLimit", s.deps.RateLimiter != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
