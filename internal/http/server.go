// Package http provides the HTTP control API of the recording service.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/camrec/internal/http/middleware"
)

// ServerConfig holds listener and timeout settings.
type ServerConfig struct {
	Host string
	Port int

	ReadTimeout time.Duration
	// WriteTimeout bounds a whole response. Stopping a recording waits for
	// the encoder to drain, so it must exceed the pipeline drain timeout.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// QuietPaths are logged at debug level when they succeed.
	QuietPaths []string
}

// DefaultServerConfig listens on all interfaces at 8080.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		QuietPaths:      []string{"/health"},
	}
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server serves the huma API on a chi router.
type Server struct {
	cfg    ServerConfig
	mux    *chi.Mux
	api    huma.API
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds the router and middleware chain. version is published
// in the OpenAPI document.
func NewServer(cfg ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	mux := chi.NewRouter()
	mux.Use(
		chimiddleware.RealIP,
		middleware.RequestID(logger),
		middleware.Logging(cfg.QuietPaths...),
		middleware.Recovery,
	)

	doc := huma.DefaultConfig("camrec API", version)
	doc.Info.Description = "Start, stop and inspect camera recordings"

	return &Server{
		cfg:    cfg,
		mux:    mux,
		api:    humachi.New(mux, doc),
		logger: logger,
		srv: &http.Server{
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// API is where handlers register their operations.
func (s *Server) API() huma.API { return s.api }

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Serve accepts connections on l. It returns nil once Shutdown closes it.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("http server listening", slog.String("address", l.Addr().String()))
	err := s.srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("serving http: %w", err)
}

// Shutdown stops accepting connections and waits up to ShutdownTimeout for
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	s.logger.Info("http server stopped", slog.Duration("took", time.Since(start)))
	return nil
}

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	shutdown := make(chan error, 1)
	stop := context.AfterFunc(ctx, func() {
		shutdown <- s.Shutdown(context.WithoutCancel(ctx))
	})

	err = s.Serve(l)
	if stop() {
		// ctx is still live, so Serve ended on its own.
		return err
	}
	if err != nil {
		return err
	}
	return <-shutdown
}
