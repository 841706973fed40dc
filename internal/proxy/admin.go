package proxy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"toolgate/internal/registry"
)

// registerAdminTools installs the proxy's own management tools. They are
// core entries and bypass the visibility rules.
func (p *Proxy) registerAdminTools() {
	p.registry.RegisterCoreTool("server_status",
		"Show the connection state of one backend, or all backends when no name is given",
		mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Backend name; omit for all backends",
				},
			},
		},
		p.handleServerStatus)

	p.registry.RegisterCoreTool("reconnect_server",
		"Force a backend to drop its connection and reconnect with a fresh retry budget",
		backendNameSchema(),
		p.handleReconnectServer)

	p.registry.RegisterCoreTool("disconnect_server",
		"Disconnect a backend; it stays down until reconnect_server",
		backendNameSchema(),
		p.handleDisconnectServer)

	p.registry.RegisterCoreTool("search_tools",
		"Search registered tools by keyword over name, description, and backend",
		mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"keywords": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Keywords to match",
				},
				"mode": map[string]any{
					"type":        "string",
					"enum":        []string{"and", "or"},
					"description": "How keywords combine, default and",
				},
			},
			Required: []string{"keywords"},
		},
		p.handleSearchTools)

	p.registry.RegisterCoreTool("enable_tools",
		"Dynamically enable the named tools",
		toolNamesSchema(),
		p.handleEnableTools)

	p.registry.RegisterCoreTool("disable_tools",
		"Dynamically disable the named tools; always-visible tools are unaffected",
		toolNamesSchema(),
		p.handleDisableTools)
}

func backendNameSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Backend name",
			},
		},
		Required: []string{"name"},
	}
}

func toolNamesSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"tools": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Full tool names",
			},
		},
		Required: []string{"tools"},
	}
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	value, ok := args[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("argument %q is required", key)
	}
	return value, nil
}

func stringSliceArg(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil, fmt.Errorf("argument %q must be an array of strings", key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be an array of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func jsonResult(value any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (p *Proxy) handleServerStatus(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if name, ok := args["name"].(string); ok && name != "" {
		status, err := p.GetServerStatus(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(statusView(status))
	}

	statuses := p.ServerStatuses()
	views := make([]map[string]any, 0, len(statuses))
	for _, s := range statuses {
		views = append(views, statusView(s))
	}
	return jsonResult(views)
}

func statusView(s ServerStatus) map[string]any {
	view := map[string]any{
		"name":       s.Name,
		"state":      s.State.String(),
		"retryCount": s.RetryCount,
		"lastChange": s.LastChange,
		"toolCount":  s.ToolCount,
	}
	if s.LastError != nil {
		view["lastError"] = s.LastError.Error()
	}
	return view
}

func (p *Proxy) handleReconnectServer(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := p.ReconnectServer(ctx, name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("backend %s reconnected", name)), nil
}

func (p *Proxy) handleDisconnectServer(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := p.DisconnectServer(name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("backend %s disconnected", name)), nil
}

func (p *Proxy) handleSearchTools(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	keywords, err := stringSliceArg(args, "keywords")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode := registry.SearchAnd
	if m, ok := args["mode"].(string); ok && m == "or" {
		mode = registry.SearchOr
	}

	entries := p.registry.SearchTools(keywords, mode)
	views := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		views = append(views, map[string]any{
			"name":        e.FullName,
			"backend":     e.BackendName,
			"description": e.Description,
			"exposed":     e.Exposed,
			"reason":      string(e.Reason),
		})
	}
	return jsonResult(views)
}

func (p *Proxy) handleEnableTools(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	names, err := stringSliceArg(args, "tools")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changed := p.registry.EnableTools(names)
	return jsonResult(map[string]any{"enabled": changed})
}

func (p *Proxy) handleDisableTools(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	names, err := stringSliceArg(args, "tools")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changed := p.registry.DisableTools(names)
	return jsonResult(map[string]any{"disabled": changed})
}
