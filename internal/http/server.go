// Package http provides the HTTP server and API handlers for vodarr.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/http/middleware"
)

// Server wraps the chi router, the huma API and the underlying
// http.Server lifecycle.
type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router, middleware chain and OpenAPI surface.
// Handlers are registered by the caller through API() and Router().
// The version parameter lands in the OpenAPI spec and should match the
// build version.
func NewServer(cfg *config.Config, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()

	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))

	// CORS runs before auth so browser preflights succeed without
	// credentials.
	router.Use(middleware.CORS())
	router.Use(middleware.APIKey(cfg.Security.APIKey))

	// Playlists and JSON compress well; segments and batch outputs are
	// already compressed media, and websocket upgrades must not be
	// wrapped.
	router.Use(middleware.SkipCompressionForMedia(middleware.NewCompressor()))

	humaConfig := huma.DefaultConfig("vodarr API", version)
	humaConfig.Info.Description = "Network transcoding service: submit a source, play or download the result."

	// API operations get a request timeout and a per-client rate
	// limit. Media and websocket routes register directly on the
	// router and stay outside this group: a segment download can
	// outlive any sane API timeout, and players fetch segments at
	// rates that would trip the limiter.
	var api huma.API
	router.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))
		r.Use(middleware.RateLimit(cfg.Limits.APIRatePerMinute))
		api = humachi.New(r, humaConfig)
	})

	return &Server{
		cfg:    cfg.Server,
		router: router,
		api:    api,
		logger: logger,
	}
}

// API returns the huma API instance for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the chi router for registering raw routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.cfg.Address()

	// WriteTimeout stays unset: it would sever long-running segment
	// downloads and websocket connections. The API group enforces its
	// own per-request timeout.
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("starting HTTP server", slog.String("address", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down HTTP server",
		slog.Duration("timeout", s.cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// ListenAndServe starts the server and handles graceful shutdown.
// It blocks until ctx is cancelled or the server fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}
