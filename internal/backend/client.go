package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"toolgate/pkg/logging"
)

// Client is the protocol-level view of one backend, independent of the
// transport underneath. All implementations are safe for concurrent use.
type Client interface {
	// Initialize establishes the connection and performs the protocol
	// handshake.
	Initialize(ctx context.Context) error
	// ListTools returns the tools the backend advertises.
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	// CallTool executes one tool and returns its result.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	// Ping checks whether the backend is responsive.
	Ping(ctx context.Context) error
	// Close shuts the connection down.
	Close() error
}

// NotificationHandler receives protocol notifications, keyed by method.
type NotificationHandler func(method string, params map[string]any)

// ProtocolClient speaks the tool protocol over a frame Transport (stdio
// subprocess or socket). Remote HTTP backends use remoteClient instead.
type ProtocolClient struct {
	name string
	conn *Conn
}

// NewProtocolClient wraps a transport in a protocol client. requestTimeout
// bounds each round trip; zero uses DefaultRequestTimeout.
func NewProtocolClient(name string, transport Transport, requestTimeout time.Duration) *ProtocolClient {
	return &ProtocolClient{
		name: name,
		conn: NewConn(name, transport, requestTimeout),
	}
}

// SetNotificationHandler registers the handler for backend-initiated
// notifications such as tool list changes. Must be called before
// Initialize.
func (c *ProtocolClient) SetNotificationHandler(fn NotificationHandler) {
	c.conn.SetNotificationHandler(func(msg *Message) {
		fn(msg.Method, msg.Params)
	})
}

// SetCloseHandler registers the callback invoked when the connection
// drops. Must be called before Initialize.
func (c *ProtocolClient) SetCloseHandler(fn func(error)) {
	c.conn.SetCloseHandler(fn)
}

// Initialize starts the transport and performs the handshake.
func (c *ProtocolClient) Initialize(ctx context.Context) error {
	if err := c.conn.Start(ctx); err != nil {
		return err
	}

	resp, err := c.conn.Request(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "toolgate",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("initializing backend %s: %w", c.name, err)
	}

	var info struct {
		ServerInfo mcp.Implementation `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &info); err == nil && info.ServerInfo.Name != "" {
		logging.Debug("Client", "Backend %s: connected to %s %s",
			c.name, info.ServerInfo.Name, info.ServerInfo.Version)
	}

	if err := c.conn.Notify("notifications/initialized", nil); err != nil {
		logging.Warn("Client", "Backend %s: initialized notification failed: %v", c.name, err)
	}
	return nil
}

// ListTools returns all tools the backend advertises.
func (c *ProtocolClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	resp, err := c.conn.Request(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("listing tools on backend %s: %w", c.name, err)
	}

	var result struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decoding tool list from backend %s: %w", c.name, err)
	}
	return result.Tools, nil
}

// CallTool executes one tool and returns its result.
func (c *ProtocolClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	resp, err := c.conn.Request(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	raw := json.RawMessage(resp.Result)
	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, fmt.Errorf("decoding result of %s from backend %s: %w", name, c.name, err)
	}
	return result, nil
}

// Ping checks whether the backend answers protocol pings.
func (c *ProtocolClient) Ping(ctx context.Context) error {
	_, err := c.conn.Request(ctx, "ping", nil)
	return err
}

// Close shuts the connection down.
func (c *ProtocolClient) Close() error {
	return c.conn.Close()
}
