// Package mcpserver exposes the phone search tools over the Model Context
// Protocol.
package mcpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/maltedev/phone-spec-scraper/internal/models"
)

const (
	serverName    = "phone-spec-scraper"
	serverVersion = "1.0.0"
)

// New builds an MCP server with every tool registered.
func New(s Searcher, defaultSites []models.Site) *server.MCPServer {
	if len(defaultSites) == 0 {
		defaultSites = []models.Site{models.SiteGSMArena}
	}

	srv := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
	)

	t := &tools{scraper: s, defaultSites: defaultSites}
	t.register(srv)
	return srv
}

// Serve runs the server over stdio until stdin closes.
func Serve(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}

// ServeHTTP runs the streamable HTTP transport on addr until ctx is done.
// A non-empty apiKey requires a matching bearer token.
func ServeHTTP(ctx context.Context, srv *server.MCPServer, addr, apiKey string, logger *slog.Logger) error {
	logger = logger.With("component", "mcp_http")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	var handler http.Handler = server.NewStreamableHTTPServer(srv, server.WithStateLess(true))
	if apiKey != "" {
		handler = bearerAuth(apiKey, handler)
	}
	mux.Handle("/mcp", handler)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("mcp server shutdown failed", "error", err)
		}
	}()

	logger.Info("mcp http server listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func bearerAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
