// Package server wires HTTP handlers into a chi router for the relay
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRoutes configures and returns the HTTP handler with all application routes:
// health check, WebSocket endpoint, test page and, when a static directory is
// configured, the static file server.
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()
	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.origins.cors)
	if s.limiter != nil {
		r.Use(s.limiter.middleware)
	}

	r.Get("/health", HealthHandler)
	r.Get("/ws", s.WebSocketHandler)
	r.Get("/test", TestPageHandler)

	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	} else {
		r.Get("/", HealthHandler)
	}
	return r
}
