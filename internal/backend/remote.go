package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"toolgate/internal/auth"
	"toolgate/pkg/logging"
)

// RemoteKind selects the HTTP transport flavor for a remote backend.
type RemoteKind string

const (
	// RemoteStreamableHTTP uses the streamable HTTP transport.
	RemoteStreamableHTTP RemoteKind = "streamable-http"
	// RemoteSSE uses the server-sent events transport.
	RemoteSSE RemoteKind = "sse"
)

// remoteClient implements Client for HTTP-based backends via the mcp-go
// client library. When an auth provider is configured, an authentication
// failure triggers one credential refresh followed by a single retry.
type remoteClient struct {
	name     string
	kind     RemoteKind
	url      string
	headers  map[string]string
	provider auth.Provider

	mu        sync.RWMutex
	client    client.MCPClient
	connected bool
}

// NewRemoteClient creates a client for a remote HTTP backend. headers are
// static headers sent on every request; provider, when non-nil, supplies
// credential headers on top of them.
func NewRemoteClient(name string, kind RemoteKind, url string, headers map[string]string, provider auth.Provider) Client {
	return &remoteClient{
		name:     name,
		kind:     kind,
		url:      url,
		headers:  headers,
		provider: provider,
	}
}

func (c *remoteClient) requestHeaders(ctx context.Context) (map[string]string, error) {
	merged := make(map[string]string, len(c.headers)+1)
	for k, v := range c.headers {
		merged[k] = v
	}
	if c.provider != nil {
		creds, err := c.provider.Headers(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving credentials for %s: %w", c.name, err)
		}
		for k, v := range creds {
			merged[k] = v
		}
	}
	return merged, nil
}

// Initialize connects to the remote endpoint and performs the handshake.
func (c *remoteClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	return c.connectLocked(ctx)
}

// connectLocked dials and handshakes. Callers must hold c.mu.
func (c *remoteClient) connectLocked(ctx context.Context) error {
	headers, err := c.requestHeaders(ctx)
	if err != nil {
		return err
	}

	var mcpClient *client.Client
	switch c.kind {
	case RemoteSSE:
		mcpClient, err = client.NewSSEMCPClient(c.url, transport.WithHeaders(headers))
	default:
		mcpClient, err = client.NewStreamableHttpClient(c.url, transport.WithHTTPHeaders(headers))
	}
	if err != nil {
		return fmt.Errorf("creating %s client for %s: %w", c.kind, c.name, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("starting %s transport for %s: %w", c.kind, c.name, err)
	}

	initResult, err := mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "toolgate",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("initializing backend %s: %w", c.name, err)
	}

	c.client = mcpClient
	c.connected = true

	logging.Debug("Client", "Backend %s: connected to %s %s via %s",
		c.name, initResult.ServerInfo.Name, initResult.ServerInfo.Version, c.kind)
	return nil
}

// withAuthRetry runs fn, and on an authentication failure refreshes the
// credentials, reconnects, and retries exactly once.
func (c *remoteClient) withAuthRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || c.provider == nil || !isAuthError(err) {
		return err
	}

	logging.Info("Client", "Backend %s: auth failure, refreshing credentials", c.name)
	if refreshErr := c.provider.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("refreshing credentials for %s: %w", c.name, refreshErr)
	}

	c.mu.Lock()
	if c.client != nil {
		c.client.Close()
	}
	c.client = nil
	c.connected = false
	reconnectErr := c.connectLocked(ctx)
	c.mu.Unlock()
	if reconnectErr != nil {
		return reconnectErr
	}

	return fn()
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "401") || strings.Contains(msg, "Unauthorized") ||
		strings.Contains(msg, "unauthorized")
}

func (c *remoteClient) current() (client.MCPClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// ListTools returns all tools the backend advertises.
func (c *remoteClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var tools []mcp.Tool
	err := c.withAuthRetry(ctx, func() error {
		cl, err := c.current()
		if err != nil {
			return err
		}
		result, err := cl.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return err
		}
		tools = result.Tools
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing tools on backend %s: %w", c.name, err)
	}
	return tools, nil
}

// CallTool executes one tool and returns its result.
func (c *remoteClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	var result *mcp.CallToolResult
	err := c.withAuthRetry(ctx, func() error {
		cl, err := c.current()
		if err != nil {
			return err
		}
		res, err := cl.CallTool(ctx, mcp.CallToolRequest{
			Params: struct {
				Name      string    `json:"name"`
				Arguments any       `json:"arguments,omitempty"`
				Meta      *mcp.Meta `json:"_meta,omitempty"`
			}{
				Name:      name,
				Arguments: args,
			},
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Ping checks whether the backend is responsive.
func (c *remoteClient) Ping(ctx context.Context) error {
	cl, err := c.current()
	if err != nil {
		return err
	}
	return cl.Ping(ctx)
}

// Close shuts the connection down. Remote connection loss has no close
// notification of its own; the owner's health checks detect it.
func (c *remoteClient) Close() error {
	c.mu.Lock()
	cl := c.client
	c.client = nil
	c.connected = false
	c.mu.Unlock()

	if cl != nil {
		return cl.Close()
	}
	return nil
}
