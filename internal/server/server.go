// Package server assembles the chi router and HTTP server lifecycle.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/visionzones/exporter/internal/config"
	apperrors "github.com/visionzones/exporter/internal/errors"
	"github.com/visionzones/exporter/internal/server/handlers"
	"github.com/visionzones/exporter/internal/server/middleware"
	"github.com/visionzones/exporter/pkg/archive"
	"github.com/visionzones/exporter/pkg/dispatch"
	"github.com/visionzones/exporter/pkg/paddock"
	"github.com/visionzones/exporter/pkg/registry"
)

// Dependencies carries everything the HTTP surface needs.
type Dependencies struct {
	Config     *config.Config
	Registry   registry.Registry
	Dispatcher dispatch.Dispatcher
	Store      archive.Store
	Paddocks   *paddock.Store
	Logger     *zap.Logger
	Version    string
}

// Server is the HTTP front of the exporter.
type Server struct {
	cfg    config.ServerConfig
	router chi.Router
	http   *http.Server
	logger *zap.Logger
}

// New builds the router and server. It does not start listening.
func New(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	streamer := archive.NewStreamer(deps.Store, deps.Registry)
	h := handlers.New(deps.Config, deps.Registry, deps.Dispatcher,
		streamer, deps.Paddocks, deps.Store, logger, deps.Version)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteEnvelope(w, req, "NOT_FOUND", "route not found", http.StatusNotFound, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteEnvelope(w, req, "METHOD_NOT_ALLOWED", "method not allowed", http.StatusMethodNotAllowed, nil)
	})

	r.Get("/", h.Home)
	r.Get("/health", h.Health)
	r.Get("/version", h.Version)

	r.Post("/start", h.Start)
	r.Get("/status", h.Status)
	r.Get("/download-zip", h.DownloadZip)

	r.Post("/upload-boundary", h.UploadBoundary)
	r.Get("/paddocks", h.ListPaddocks)
	r.Get("/paddocks/{id}", h.GetPaddock)

	cfg := deps.Config.Server
	return &Server{
		cfg:    cfg,
		router: r,
		logger: logger,
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the configured bind address.
func (s *Server) Addr() string { return s.cfg.Addr() }

// ListenAndServe blocks serving requests until Shutdown or a listener
// error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr()))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
