// Package server exposes the generation, file and auth operations as MCP
// tools over SSE, streamable HTTP or stdio.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/0xshugo/suno-api-mcp/internal/auth"
	"github.com/0xshugo/suno-api-mcp/internal/config"
	"github.com/0xshugo/suno-api-mcp/internal/logging"
	"github.com/0xshugo/suno-api-mcp/internal/output"
	"github.com/0xshugo/suno-api-mcp/internal/suno"
)

// Transports.
const (
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
	TransportStdio          = "stdio"
)

const shutdownTimeout = 5 * time.Second

// Generator runs the whole generation pipeline.
type Generator interface {
	Run(ctx context.Context, p suno.Params, target output.Target) (*suno.Job, []suno.TrackResult, error)
}

// CreditsSource reports the provider billing summary.
type CreditsSource interface {
	Credits(ctx context.Context) (suno.Credits, error)
}

// AuthService is the credential lifecycle as seen by the tools.
type AuthService interface {
	Status() auth.Status
	Validate(ctx context.Context, candidate auth.RefreshCredential) error
	Refresh(ctx context.Context) (auth.AccessCredential, error)
}

// Deps are the collaborators behind the tools.
type Deps struct {
	Generator Generator
	Credits   CreditsSource
	Files     *output.Router
	Auth      AuthService
	// DeviceID is sent with candidate credentials in auth_validate.
	DeviceID string
}

// Options configures a Server.
type Options struct {
	Name           string
	Version        string
	ResponseFormat string
	BaseURL        string
	Logger         *logging.Logger
}

// Server owns the MCP server and its tools.
type Server struct {
	deps      Deps
	opts      Options
	logger    *logging.Logger
	mcpServer *server.MCPServer
}

// New creates the MCP server and registers every tool.
func New(deps Deps, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "suno-mcp"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.ResponseFormat == "" {
		opts.ResponseFormat = config.FormatText
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	mcpServer := server.NewMCPServer(
		opts.Name,
		opts.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		deps:      deps,
		opts:      opts,
		logger:    logger,
		mcpServer: mcpServer,
	}
	s.registerTools()
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcpServer
}

// ToolNames returns the registered tool names in sorted order.
func (s *Server) ToolNames() []string {
	tools := s.mcpServer.ListTools()
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallTool invokes a registered tool in-process, bypassing any transport.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	tool := s.mcpServer.GetTool(name)
	if tool == nil {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return tool.Handler(ctx, req)
}

// Start serves the given transport until ctx is cancelled.
func (s *Server) Start(ctx context.Context, transport, listenAddr string) error {
	switch transport {
	case TransportStdio:
		s.logger.Info("Serving MCP over stdio")
		err := server.NewStdioServer(s.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case TransportStreamableHTTP:
		hs := server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath("/mcp"))
		s.logger.Info("Serving MCP over streamable HTTP on %s/mcp", listenAddr)
		return serveUntilDone(ctx, func() error { return hs.Start(listenAddr) }, hs.Shutdown)
	case TransportSSE:
		baseURL := s.opts.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost" + listenAddr
		}
		ss := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))
		s.logger.Info("Serving MCP over SSE on %s (endpoint %s/sse)", listenAddr, baseURL)
		return serveUntilDone(ctx, func() error { return ss.Start(listenAddr) }, ss.Shutdown)
	default:
		return fmt.Errorf("unsupported server transport: %s", transport)
	}
}

// serveUntilDone runs start and shuts the server down when ctx ends.
func serveUntilDone(ctx context.Context, start func() error, shutdown func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	}
}
