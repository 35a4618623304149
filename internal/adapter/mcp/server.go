// Package mcp exposes the thermal memory operations as Model Context
// Protocol tools over streamable HTTP.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/dereadi/thermal-memory/internal/middleware"
	"github.com/dereadi/thermal-memory/internal/service"
)

// ServerConfig holds the MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	// APIKey returns the key required as a Bearer token on every request.
	// Nil or an empty key disables authentication.
	APIKey func() string
	// DefaultTriad is the requester for calls that name no triad.
	DefaultTriad string
}

// Server serves the thermal memory tools to MCP clients.
type Server struct {
	cfg        ServerConfig
	thermal    *service.ThermalService
	mcpServer  *mcpserver.MCPServer
	httpServer *http.Server
}

// NewServer creates an MCP server backed by thermal.
func NewServer(cfg ServerConfig, thermal *service.ThermalService) *Server {
	s := &Server{cfg: cfg, thermal: thermal}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP handler wrapped in authentication,
// request id and triad identification.
func (s *Server) Handler() http.Handler {
	var h http.Handler = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	h = middleware.Triad(s.cfg.DefaultTriad)(h)
	h = AuthMiddleware(s.cfg.APIKey, h)
	return middleware.RequestID(h)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
