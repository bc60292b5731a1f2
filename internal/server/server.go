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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sundayezeilo/searchlink/internal/auth"
	"github.com/sundayezeilo/searchlink/internal/config"
	"github.com/sundayezeilo/searchlink/internal/httpx"
	"github.com/sundayezeilo/searchlink/internal/metrics"
	"github.com/sundayezeilo/searchlink/internal/shortlink"
)

const readyTimeout = 2 * time.Second

// Server represents the HTTP server with all dependencies.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	handler  *shortlink.Handler
	ready    shortlink.Pinger
	verifier *auth.Verifier
	server   *http.Server
}

// Options carries the optional dependencies of the server.
type Options struct {
	// Ready backs /x/ready. Nil reports ready unconditionally.
	Ready shortlink.Pinger
	// Verifier guards DELETE. Nil leaves it open.
	Verifier *auth.Verifier
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *slog.Logger, handler *shortlink.Handler, opts Options) *Server {
	return &Server{
		config:   cfg,
		logger:   logger,
		handler:  handler,
		ready:    opts.Ready,
		verifier: opts.Verifier,
	}
}

// Handler returns the routed handler with every middleware applied.
func (s *Server) Handler() http.Handler {
	return s.applyMiddleware(s.setupRoutes())
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	// Listen for errors from the server
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting http server",
			"addr", s.server.Addr,
			"env", s.config.App.Environment,
		)
		serverErrors <- s.server.ListenAndServe()
	}()

	// Listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
		return s.gracefulStop()

	case sig := <-shutdown:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.gracefulStop()
	}
}

func (s *Server) gracefulStop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		// Force close if graceful shutdown fails
		if closeErr := s.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close server: %w", closeErr)
		}
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /x/health", s.healthCheckHandler)
	mux.HandleFunc("GET /x/ready", s.readyHandler)
	mux.Handle("GET /x/metrics", metrics.Handler())

	mux.HandleFunc("POST /api/shortlinks", s.handler.Create)
	mux.HandleFunc("POST /api/shortlinks/search", s.handler.CreateFromSearch)
	mux.HandleFunc("GET /api/shortlinks/{hash}", s.handler.Get)
	mux.Handle("DELETE /api/shortlinks/{hash}", s.protect(http.HandlerFunc(s.handler.Delete)))

	mux.HandleFunc("GET /s/{hash}", s.handler.Redirect)

	return mux
}

// protect requires a bearer token when a verifier is configured.
func (s *Server) protect(h http.Handler) http.Handler {
	if s.verifier == nil {
		return h
	}
	return auth.Require(s.verifier, s.logger)(h)
}

// applyMiddleware wraps the handler with middleware in the correct order.
// Metrics sits directly on the mux so it sees the matched route pattern.
func (s *Server) applyMiddleware(mux http.Handler) http.Handler {
	handler := httpx.Chain(
		httpx.Recovery(s.logger),                   // Outermost: catch panics
		httpx.RequestID,                            // Add request ID
		httpx.Logger(s.logger),                     // Log requests
		httpx.CORS(s.config.Server.AllowedOrigins), // CORS headers
	)(httpx.Metrics(mux))

	if s.config.Observability.Enabled {
		handler = otelhttp.NewHandler(handler, "searchlink")
	}
	return handler
}

// healthCheckHandler handles health check requests.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.config.Observability.ServiceName,
		"version": s.config.Observability.ServiceVersion,
	})
}

// readyHandler reports whether the store answers.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := s.ready.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "readiness check failed",
				"request_id", httpx.GetRequestID(r.Context()),
				"error", err.Error(),
			)
			httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable", "store is not reachable", nil)
			return
		}
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"backend": s.config.Store.Backend,
	})
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded, forcing close")
			return s.server.Close()
		}
		return err
	}

	return nil
}
