// Package server constructs and starts the relay's HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout     = 10 * time.Second
	hubShutdownTimeout  = 5 * time.Second
	rateLimiterSweepGap = time.Minute
)

// Server bundles the hub with the HTTP surface that feeds it.
type Server struct {
	cfg      *Config
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
	limiter  *ipRateLimiter
	logger   *zap.Logger
}

// New builds a Server from a validated configuration.
func New(cfg *Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:     cfg,
		hub:     NewHub(cfg.Relay, logger.Named("hub")),
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		EnableCompression: cfg.EnableCompression,
		CheckOrigin:       s.origins.checkOrigin,
	}
	if cfg.HTTPRateLimit.Requests > 0 {
		s.limiter = newIPRateLimiter(cfg.HTTPRateLimit.Requests, cfg.HTTPRateLimit.Window, logger)
	}
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// StartHub runs the hub's event loop in a separate goroutine. Run does this
// itself; StartHub is for callers that mount SetupRoutes on their own server.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.logger.Info("hub started and ready to manage WebSocket connections")
}

// Run serves until ctx is cancelled or the listener fails, then shuts the HTTP
// server and the hub down.
func (s *Server) Run(ctx context.Context) error {
	httpServer := CreateServer(s.cfg.Port, s.SetupRoutes())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.hub.Run()
		return nil
	})

	if s.limiter != nil {
		g.Go(func() error {
			s.limiter.cleanup(gctx, rateLimiterSweepGap)
			return nil
		})
	}

	g.Go(func() error {
		s.logListenURLs()
		if err := StartServer(httpServer, s.logger); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", httpServer.Addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return errors.Join(
			ShutdownServer(httpServer, shutdownTimeout, s.logger),
			s.hub.Shutdown(hubShutdownTimeout),
		)
	})

	return g.Wait()
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and begins listening for connections.
// It always returns a non-nil error, http.ErrServerClosed after a shutdown.
func StartServer(server *http.Server, logger *zap.Logger) error {
	logger.Info("server listening", zap.String("addr", server.Addr))
	return server.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, logger *zap.Logger) error {
	logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
		return err
	}

	logger.Info("HTTP server shutdown completed")
	return nil
}

// logListenURLs logs a URL for every non-loopback IPv4 address when the
// server listens on all interfaces, so people on the LAN know where to connect.
func (s *Server) logListenURLs() {
	host, port, err := net.SplitHostPort(s.cfg.Port)
	if err != nil || (host != "" && host != "0.0.0.0") {
		return
	}
	for _, u := range ListenURLs(port) {
		s.logger.Info("reachable at", zap.String("url", u))
	}
}

// ListenURLs returns http URLs for the host's non-loopback IPv4 addresses.
func ListenURLs(port string) []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	var urls []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		urls = append(urls, "http://"+net.JoinHostPort(ip4.String(), strings.TrimPrefix(port, ":")))
	}
	return urls
}
