// Package registry holds the aggregated tool set and decides which tools
// the proxy exposes. Visibility is enforced as a firewall: tools matching
// a hide pattern without an always-visible override are never stored, so
// no lookup, search, or routing path can reach them.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"toolgate/pkg/logging"
)

// Registry is the aggregated tool registry. All methods are safe for
// concurrent use; every mutation completes under a single lock
// acquisition, so a concurrent lookup never observes a half-updated set.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*ToolEntry
	visibility VisibilityConfig

	// updateChan carries change notifications with at most one pending
	// signal; senders never block.
	updateChan chan struct{}
}

// New creates an empty registry with the given visibility configuration.
func New(visibility VisibilityConfig) *Registry {
	return &Registry{
		entries:    make(map[string]*ToolEntry),
		visibility: visibility,
		updateChan: make(chan struct{}, 1),
	}
}

// UpdateChannel returns the channel signalled after every change to the
// registered tool set. At most one notification is buffered.
func (r *Registry) UpdateChannel() <-chan struct{} {
	return r.updateChan
}

func (r *Registry) notifyUpdate() {
	select {
	case r.updateChan <- struct{}{}:
	default:
	}
}

// RegisterServerTools registers the tools discovered on a connected
// backend. Tools matching a hide pattern without an always-visible
// override are dropped entirely. Returns how many tools were stored.
func (r *Registry) RegisterServerTools(backend string, tools []mcp.Tool) int {
	r.mu.Lock()
	stored := 0
	for _, tool := range tools {
		if r.registerDiscoveredLocked(backend, tool) {
			stored++
		}
	}
	r.mu.Unlock()

	logging.Info("Registry", "Backend %s: registered %d of %d discovered tools",
		backend, stored, len(tools))
	r.notifyUpdate()
	return stored
}

// registerDiscoveredLocked stores one discovered tool unless the firewall
// excludes it. Callers must hold r.mu.
func (r *Registry) registerDiscoveredLocked(backend string, tool mcp.Tool) bool {
	fullName := FullName(backend, tool.Name)

	if r.visibility.hidden(fullName) {
		logging.Debug("Registry", "Tool %s excluded by visibility rules", fullName)
		return false
	}

	entry := &ToolEntry{
		FullName:     fullName,
		OriginalName: tool.Name,
		BackendName:  backend,
		Description:  tool.Description,
		InputSchema:  tool.InputSchema,
		Discovered:   true,
		Backing:      ToolBacking{Kind: ClientBacked, Backend: backend},
	}
	if matchesAny(r.visibility.AlwaysVisibleTools, fullName) {
		entry.Enabled = true
		entry.EnabledBy = "always"
	}
	entry.Exposed, entry.Reason = r.visibility.computeVisibility(entry)

	r.entries[fullName] = entry
	return true
}

// RegisterCoreTool registers a built-in tool served by the proxy itself.
// Core tools bypass all visibility rules.
func (r *Registry) RegisterCoreTool(name, description string, schema mcp.ToolInputSchema, handler CommandHandler) {
	entry := &ToolEntry{
		FullName:     name,
		OriginalName: name,
		Description:  description,
		InputSchema:  schema,
		Core:         true,
		Discovered:   true,
		Enabled:      true,
		EnabledBy:    "core",
		Backing:      ToolBacking{Kind: CommandBacked, Handler: handler},
	}
	entry.Exposed, entry.Reason = r.visibility.computeVisibility(entry)

	r.mu.Lock()
	r.entries[name] = entry
	r.mu.Unlock()
	r.notifyUpdate()
}

// GetTool returns a copy of the entry for the given full name.
func (r *Registry) GetTool(fullName string) (ToolEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[fullName]
	if !ok {
		return ToolEntry{}, false
	}
	return *entry, true
}

// EnableTools turns the dynamic visibility toggle on for the named tools
// and recomputes their exposure. Unknown names are ignored. Returns the
// names that were actually changed.
func (r *Registry) EnableTools(names []string) []string {
	return r.setEnabled(names, true)
}

// DisableTools turns the dynamic visibility toggle off. Disabling an
// always-visible tool is a no-op. Returns the names actually changed.
func (r *Registry) DisableTools(names []string) []string {
	return r.setEnabled(names, false)
}

func (r *Registry) setEnabled(names []string, enabled bool) []string {
	r.mu.Lock()
	var changed []string
	for _, name := range names {
		entry, ok := r.entries[name]
		if !ok {
			continue
		}
		if !enabled && entry.EnabledBy == "always" {
			continue
		}
		if entry.Enabled == enabled {
			continue
		}
		entry.Enabled = enabled
		if enabled {
			entry.EnabledBy = "dynamic"
		} else {
			entry.EnabledBy = ""
		}
		entry.Exposed, entry.Reason = r.visibility.computeVisibility(entry)
		changed = append(changed, name)
	}
	r.mu.Unlock()

	if len(changed) > 0 {
		r.notifyUpdate()
	}
	return changed
}

// RemoveToolsFromServer deletes every entry belonging to the named
// backend in one atomic pass and returns how many were removed.
func (r *Registry) RemoveToolsFromServer(backend string) int {
	r.mu.Lock()
	removed := 0
	for name, entry := range r.entries {
		if entry.BackendName == backend && !entry.Core {
			delete(r.entries, name)
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		logging.Info("Registry", "Backend %s: removed %d tools", backend, removed)
		r.notifyUpdate()
	}
	return removed
}

// HotReloadCommand replaces every entry for the given backend with the
// new tool set in one pass, so no lookup can see the backend half
// reloaded.
func (r *Registry) HotReloadCommand(backend string, tools []mcp.Tool) int {
	r.mu.Lock()
	for name, entry := range r.entries {
		if entry.BackendName == backend && !entry.Core {
			delete(r.entries, name)
		}
	}
	stored := 0
	for _, tool := range tools {
		if r.registerDiscoveredLocked(backend, tool) {
			stored++
		}
	}
	r.mu.Unlock()

	logging.Info("Registry", "Backend %s: hot reloaded, now %d tools", backend, stored)
	r.notifyUpdate()
	return stored
}

// GetExposedTools returns the wire representation of every exposed tool,
// sorted by name, with descriptions prefixed by the backend name.
func (r *Registry) GetExposedTools() []mcp.Tool {
	r.mu.RLock()
	tools := make([]mcp.Tool, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.Exposed {
			tools = append(tools, entry.Tool())
		}
	}
	r.mu.RUnlock()

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// AllEntries returns a copy of every stored entry, sorted by name.
func (r *Registry) AllEntries() []ToolEntry {
	r.mu.RLock()
	entries := make([]ToolEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, *entry)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].FullName < entries[j].FullName })
	return entries
}

// SearchMode selects how multiple keywords combine in SearchTools.
type SearchMode string

const (
	// SearchAnd requires every keyword to match.
	SearchAnd SearchMode = "and"
	// SearchOr requires at least one keyword to match.
	SearchOr SearchMode = "or"
)

// SearchTools performs case-insensitive substring matching of the
// keywords over name, description, and backend name of discovered tools.
// Exposed entries sort before unexposed ones, then by name.
func (r *Registry) SearchTools(keywords []string, mode SearchMode) []ToolEntry {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw != "" {
			lowered = append(lowered, strings.ToLower(kw))
		}
	}

	r.mu.RLock()
	var matches []ToolEntry
	for _, entry := range r.entries {
		if !entry.Discovered {
			continue
		}
		haystack := strings.ToLower(entry.FullName + " " + entry.Description + " " + entry.BackendName)
		if matchKeywords(haystack, lowered, mode) {
			matches = append(matches, *entry)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Exposed != matches[j].Exposed {
			return matches[i].Exposed
		}
		return matches[i].FullName < matches[j].FullName
	})
	return matches
}

func matchKeywords(haystack string, keywords []string, mode SearchMode) bool {
	if len(keywords) == 0 {
		return true
	}
	switch mode {
	case SearchOr:
		for _, kw := range keywords {
			if strings.Contains(haystack, kw) {
				return true
			}
		}
		return false
	default:
		for _, kw := range keywords {
			if !strings.Contains(haystack, kw) {
				return false
			}
		}
		return true
	}
}
