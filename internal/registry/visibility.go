package registry

import "path"

// VisibilityConfig is the read-only pattern configuration controlling
// which tools the proxy exposes. Patterns use glob-style matching against
// full tool names, e.g. "gh__secret_*".
type VisibilityConfig struct {
	// HideTools lists patterns of tools that are excluded outright.
	HideTools []string `yaml:"hideTools"`
	// ExposeTools, when non-empty, switches to allowlist mode: only
	// matching tools are exposed by default.
	ExposeTools []string `yaml:"exposeTools"`
	// AlwaysVisibleTools lists patterns that win over HideTools and stay
	// exposed regardless of dynamic toggles.
	AlwaysVisibleTools []string `yaml:"alwaysVisibleTools"`
}

// matchesAny reports whether name matches one of the glob patterns.
// Malformed patterns never match.
func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// hidden reports whether a tool name is firewalled: it matches a hide
// pattern and no always-visible pattern rescues it.
func (v VisibilityConfig) hidden(name string) bool {
	return matchesAny(v.HideTools, name) && !matchesAny(v.AlwaysVisibleTools, name)
}

// computeVisibility evaluates the exposure rules for an entry. First
// matching rule wins:
//
//  1. core tools are always exposed
//  2. always-visible patterns
//  3. dynamic enable
//  4. allowlist mode, when ExposeTools is configured
//  5. hide patterns (only reachable for core-adjacent entries; plain
//     hidden tools are excluded at registration and never get here)
//  6. exposed by default
func (v VisibilityConfig) computeVisibility(e *ToolEntry) (bool, ExposureReason) {
	if e.Core {
		return true, ReasonCore
	}
	if matchesAny(v.AlwaysVisibleTools, e.FullName) {
		return true, ReasonAlways
	}
	if e.Enabled {
		return true, ReasonEnabled
	}
	if len(v.ExposeTools) > 0 {
		if matchesAny(v.ExposeTools, e.FullName) {
			return true, ReasonAllowlist
		}
		return false, ReasonNone
	}
	if matchesAny(v.HideTools, e.FullName) {
		return false, ReasonNone
	}
	return true, ReasonDefault
}
