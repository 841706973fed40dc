package proxy

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"toolgate/internal/config"
	"toolgate/pkg/logging"
)

// Server exposes the proxy's tool surface to the upstream client over one
// of the supported transports. The published tool set follows the
// registry: every registry update is mirrored into the MCP server.
type Server struct {
	cfg   config.ProxyConfig
	proxy *Proxy

	mu                   sync.Mutex
	server               *server.MCPServer
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	stdioServer          *server.StdioServer
	published            map[string]bool
	cancel               context.CancelFunc
	wg                   sync.WaitGroup
}

// NewServer creates the client-facing server for a proxy.
func NewServer(cfg config.ProxyConfig, proxy *Proxy) *Server {
	return &Server{
		cfg:       cfg,
		proxy:     proxy,
		published: make(map[string]bool),
	}
}

// Start publishes the current tool set and begins serving on the
// configured transport. It returns once the transport is listening.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.server = server.NewMCPServer(
		"toolgate",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.mu.Unlock()

	s.syncTools()

	s.wg.Add(1)
	go s.watchRegistry(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	switch s.cfg.Transport {
	case "sse":
		logging.Info("Server", "Serving SSE on %s", addr)
		s.sseServer = server.NewSSEServer(
			s.server,
			server.WithBaseURL(fmt.Sprintf("http://%s", addr)),
			server.WithSSEEndpoint("/sse"),
			server.WithMessageEndpoint("/message"),
			server.WithKeepAlive(true),
			server.WithKeepAliveInterval(30*time.Second),
		)
		go func() {
			if err := s.sseServer.Start(addr); err != nil && err != http.ErrServerClosed {
				logging.Error("Server", err, "SSE server error")
			}
		}()

	case "stdio":
		logging.Info("Server", "Serving on stdio")
		s.stdioServer = server.NewStdioServer(s.server)
		go func() {
			if err := s.stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil {
				logging.Error("Server", err, "Stdio server error")
			}
		}()

	default:
		logging.Info("Server", "Serving streamable HTTP on %s", addr)
		s.streamableHTTPServer = server.NewStreamableHTTPServer(s.server)
		go func() {
			if err := s.streamableHTTPServer.Start(addr); err != nil && err != http.ErrServerClosed {
				logging.Error("Server", err, "Streamable HTTP server error")
			}
		}()
	}

	return nil
}

// Stop shuts the transport down and stops mirroring the registry.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	sseServer := s.sseServer
	streamableServer := s.streamableHTTPServer
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	shutdownCtx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()

	if sseServer != nil {
		if err := sseServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Server", "Error shutting down SSE server: %v", err)
		}
	}
	if streamableServer != nil {
		if err := streamableServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Server", "Error shutting down streamable HTTP server: %v", err)
		}
	}

	s.wg.Wait()

	s.mu.Lock()
	s.server = nil
	s.sseServer = nil
	s.streamableHTTPServer = nil
	s.stdioServer = nil
	s.published = make(map[string]bool)
	s.mu.Unlock()
	return nil
}

// watchRegistry mirrors registry updates into the published tool set.
func (s *Server) watchRegistry(ctx context.Context) {
	defer s.wg.Done()

	updates := s.proxy.Registry().UpdateChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			s.syncTools()
		}
	}
}

// syncTools diffs the exposed tool set against what is published and
// applies additions and removals in batches.
func (s *Server) syncTools() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return
	}

	exposed := s.proxy.Registry().GetExposedTools()
	current := make(map[string]bool, len(exposed))

	var toAdd []server.ServerTool
	for _, tool := range exposed {
		current[tool.Name] = true
		if s.published[tool.Name] {
			continue
		}
		toAdd = append(toAdd, server.ServerTool{
			Tool:    tool,
			Handler: s.toolHandler(tool.Name),
		})
	}

	var toRemove []string
	for name := range s.published {
		if !current[name] {
			toRemove = append(toRemove, name)
		}
	}

	if len(toRemove) > 0 {
		s.server.DeleteTools(toRemove...)
	}
	if len(toAdd) > 0 {
		s.server.AddTools(toAdd...)
	}
	s.published = current

	if len(toAdd) > 0 || len(toRemove) > 0 {
		logging.Debug("Server", "Published tools updated: +%d -%d, %d total",
			len(toAdd), len(toRemove), len(current))
	}
}

// toolHandler forwards one published tool's calls through the proxy.
// Routing failures become error results, not protocol errors.
func (s *Server) toolHandler(fullName string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		result, err := s.proxy.CallTool(ctx, fullName, args)
		if err != nil {
			if routingErr, ok := err.(*RoutingError); ok {
				return mcp.NewToolResultError(routingErr.Error()), nil
			}
			return nil, err
		}
		return result, nil
	}
}
