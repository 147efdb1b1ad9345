// Package api serves the optional read-only status API of a supervisor run.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/kill-orphan/internal/events"
	"github.com/smazurov/kill-orphan/internal/logging"
	"github.com/smazurov/kill-orphan/internal/process"
)

const shutdownTimeout = 2 * time.Second

// StatusProvider exposes the current supervisor state.
type StatusProvider interface {
	Info() process.Info
}

// Options configures the status API.
type Options struct {
	Status            StatusProvider
	Bus               *events.Bus  // Optional, enables /api/events
	PrometheusHandler http.Handler // Optional, served at /metrics
	RunID             string
}

// Server is the Huma v2 status API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    Options
	logger     logging.Logger
}

// NewServer creates the status API using Go 1.22+ native routing.
func NewServer(opts Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("kill-orphan status API", "1.0.0")
	config.Info.Description = "Read-only view of a kill-orphan supervisor run"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	server := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		logger:  logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Run serves on addr until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run with a listener supplied by the caller.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting status API server", "addr", ln.Addr().String())
	s.logger.Debug("OpenAPI documentation available", "url", "http://"+ln.Addr().String()+"/docs")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Debug("Stopping status API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		// Open SSE streams keep Shutdown waiting, cut them off
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	s.registerSystemRoutes()
	s.registerStatusRoutes()
	s.registerLogRoutes()
	if s.options.Bus != nil {
		s.registerEventRoutes()
	}
}
