package config

import (
	"time"

	"toolgate/internal/backend"
)

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	return Config{
		Proxy: ProxyConfig{
			Transport: "streamable-http",
			Host:      "localhost",
			Port:      8090,
			LogLevel:  "info",
		},
	}
}

// ReconnectPolicy resolves a backend's backoff settings, falling back to
// the package defaults per field.
func (d BackendDescriptor) ReconnectPolicy() backend.ReconnectPolicy {
	policy := backend.DefaultReconnectPolicy()
	if d.Reconnect == nil {
		return policy
	}
	if d.Reconnect.InitialDelay > 0 {
		policy.InitialDelay = d.Reconnect.InitialDelay.Std()
	}
	if d.Reconnect.MaxDelay > 0 {
		policy.MaxDelay = d.Reconnect.MaxDelay.Std()
	}
	if d.Reconnect.Multiplier > 0 {
		policy.Multiplier = d.Reconnect.Multiplier
	}
	if d.Reconnect.MaxAttempts != nil {
		policy.MaxAttempts = *d.Reconnect.MaxAttempts
	}
	if d.Reconnect.Jitter != nil {
		policy.Jitter = *d.Reconnect.Jitter
	}
	return policy
}

// ResolvedHealthInterval returns the configured health-check interval or
// the package default.
func (d BackendDescriptor) ResolvedHealthInterval() time.Duration {
	if d.HealthInterval > 0 {
		return d.HealthInterval.Std()
	}
	return backend.DefaultHealthInterval
}
