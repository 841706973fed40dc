package registry

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// FullNameSeparator joins a backend name and a tool's original name into
// the globally unique exposed name.
const FullNameSeparator = "__"

// FullName builds the exposed name for a backend tool.
func FullName(backend, original string) string {
	return backend + FullNameSeparator + original
}

// ExposureReason records which visibility rule made a tool exposed.
type ExposureReason string

const (
	// ReasonCore marks built-in tools that bypass all visibility rules.
	ReasonCore ExposureReason = "core"
	// ReasonAlways marks tools matching the always-visible patterns.
	ReasonAlways ExposureReason = "always"
	// ReasonEnabled marks tools exposed by a dynamic enable.
	ReasonEnabled ExposureReason = "enabled"
	// ReasonAllowlist marks tools matching the expose allowlist.
	ReasonAllowlist ExposureReason = "allowlist"
	// ReasonDefault marks tools exposed because no rule excluded them.
	ReasonDefault ExposureReason = "default"
	// ReasonNone marks tools that are stored but not exposed.
	ReasonNone ExposureReason = ""
)

// BackingKind discriminates how a registered tool is executed.
type BackingKind int

const (
	// ClientBacked tools are forwarded to a connected backend.
	ClientBacked BackingKind = iota
	// CommandBacked tools run a local handler inside the proxy.
	CommandBacked
)

// CommandHandler executes a command-backed tool.
type CommandHandler func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error)

// ToolBacking says where a tool call goes. Exactly one of the fields
// matching the Kind is set: Backend for ClientBacked, Handler for
// CommandBacked.
type ToolBacking struct {
	Kind    BackingKind
	Backend string
	Handler CommandHandler
}

// ToolEntry is one registered tool with its visibility bookkeeping.
type ToolEntry struct {
	// FullName is the externally visible name, backend__original for
	// client-backed tools and the plain name for core tools.
	FullName     string
	OriginalName string
	BackendName  string
	Description  string
	InputSchema  mcp.ToolInputSchema

	// Core tools bypass the visibility rules entirely.
	Core bool
	// Discovered is true for tools learned from a live backend.
	Discovered bool
	// Enabled is the dynamic toggle; EnabledBy records who set it
	// ("always" or "dynamic").
	Enabled   bool
	EnabledBy string

	// Exposed and Reason are computed, never set directly.
	Exposed bool
	Reason  ExposureReason

	Backing ToolBacking
}

// Tool converts the entry to the wire representation, with the backend
// name prefixed to the description.
func (e *ToolEntry) Tool() mcp.Tool {
	desc := e.Description
	if e.BackendName != "" {
		desc = "[" + e.BackendName + "] " + desc
	}
	return mcp.Tool{
		Name:        e.FullName,
		Description: desc,
		InputSchema: e.InputSchema,
	}
}
