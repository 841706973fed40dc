// Package config loads and validates the toolgate configuration: the
// proxy's own listen settings, the tool visibility rules, and one
// descriptor per backend.
package config

import (
	"toolgate/internal/registry"
)

// BackendType selects how a backend is reached.
type BackendType string

const (
	// TypeStdio launches the backend as a subprocess.
	TypeStdio BackendType = "stdio"
	// TypeSocket connects to a backend listening on a socket.
	TypeSocket BackendType = "socket"
	// TypeStreamableHTTP connects over streamable HTTP.
	TypeStreamableHTTP BackendType = "streamable-http"
	// TypeSSE connects over server-sent events.
	TypeSSE BackendType = "sse"
)

// Config is the top-level toolgate configuration.
type Config struct {
	Proxy      ProxyConfig               `yaml:"proxy"`
	Visibility registry.VisibilityConfig `yaml:"visibility"`
	Backends   []BackendDescriptor       `yaml:"backends"`
}

// ProxyConfig configures the client-facing server.
type ProxyConfig struct {
	// Transport is how the upstream client connects: streamable-http,
	// sse, or stdio.
	Transport string `yaml:"transport"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"logLevel"`
}

// ReconnectConfig overrides parts of the default backoff policy. Nil
// pointer fields keep the default; maxAttempts 0 disables automatic
// retries outright.
type ReconnectConfig struct {
	InitialDelay Duration `yaml:"initialDelay"`
	MaxDelay     Duration `yaml:"maxDelay"`
	Multiplier   float64  `yaml:"multiplier"`
	MaxAttempts  *int     `yaml:"maxAttempts"`
	Jitter       *float64 `yaml:"jitter"`
}

// AuthConfig configures credentials for a remote backend.
type AuthConfig struct {
	// Type is "static" or "oauth".
	Type string `yaml:"type"`
	// Headers are sent verbatim for type static.
	Headers map[string]string `yaml:"headers"`
	// TokenURL, ClientID, ClientSecret and Scopes drive the oauth
	// client-credentials token source.
	TokenURL     string   `yaml:"tokenUrl"`
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	Scopes       []string `yaml:"scopes"`
}

// SecretsConfig lists the secret sources merged into a local backend's
// environment. Later sources override earlier ones; the merge order is
// env, file, static.
type SecretsConfig struct {
	// FromEnv passes the listed keys through from the proxy's own
	// environment.
	FromEnv []string `yaml:"fromEnv"`
	// FromFile reads a flat yaml key/value file.
	FromFile string `yaml:"fromFile"`
	// Static is an inline key/value map.
	Static map[string]string `yaml:"static"`
}

// BackendDescriptor describes one backend tool server. Immutable after
// registration; a changed descriptor is applied by hot reload, which
// replaces the backend.
type BackendDescriptor struct {
	Name string      `yaml:"name"`
	Type BackendType `yaml:"type"`

	// Command, Args and Env apply to stdio backends.
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Secrets *SecretsConfig    `yaml:"secrets"`

	// Network and Address apply to socket backends.
	Network string `yaml:"network"`
	Address string `yaml:"address"`

	// URL and Headers apply to remote HTTP backends.
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Auth    *AuthConfig       `yaml:"auth"`

	Reconnect *ReconnectConfig `yaml:"reconnect"`

	// HealthChecks defaults to enabled; HealthInterval to 30s.
	HealthChecks   *bool    `yaml:"healthChecks"`
	HealthInterval Duration `yaml:"healthInterval"`

	// RequestTimeout bounds a single tool call round trip.
	RequestTimeout Duration `yaml:"requestTimeout"`
}

// HealthChecksEnabled resolves the optional flag to its default.
func (d BackendDescriptor) HealthChecksEnabled() bool {
	if d.HealthChecks == nil {
		return true
	}
	return *d.HealthChecks
}
