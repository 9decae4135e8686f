// internal/server/server.go
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signalnine/leafdoc/internal/config"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the diagnosis API over HTTP(S)
type Server struct {
	cfg    config.ServerConfig
	server *http.Server
	logger *zap.Logger
}

// New creates a server for handler
func New(cfg config.ServerConfig, handler *Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           otelhttp.NewHandler(handler.Routes(), "leafdoc-api"),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      5 * time.Minute, // covers several reasoning calls
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Run listens on the configured address and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// TLS is used when a certificate and key are configured.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
		if err != nil {
			ln.Close()
			return fmt.Errorf("load TLS cert: %w", err)
		}
		s.server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln = tls.NewListener(ln, s.server.TLSConfig)
	}

	s.logger.Info("server starting",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.cfg.TLSCert != ""))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
