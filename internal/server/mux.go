// Package server provides HTTP server construction for the status
// endpoint.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/dav-sync/internal/auth"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Verifier       *auth.Verifier
	MCPHandler     http.Handler
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// NewMux builds the HTTP mux. The MCP and metrics endpoints are
// protected by the bearer key middleware; the health check is open.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	authMiddleware := auth.Middleware(cfg.Verifier, cfg.Logger)
	mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))
	mux.Handle("GET /metrics", authMiddleware(cfg.MetricsHandler))

	return mux
}
