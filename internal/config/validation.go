package config

import (
	"fmt"
	"strings"
)

// ValidationError is one configuration problem with its field path.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}
	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// Add appends one error.
func (ve *ValidationErrors) Add(field, format string, args ...interface{}) {
	*ve = append(*ve, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var validTransports = map[string]bool{
	"streamable-http": true,
	"sse":             true,
	"stdio":           true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
	"":      true,
}

// Validate checks the whole configuration and returns every problem at
// once, or nil when the configuration is usable.
func Validate(config Config) error {
	var errs ValidationErrors

	if !validTransports[config.Proxy.Transport] {
		errs.Add("proxy.transport", "must be streamable-http, sse, or stdio, got %q", config.Proxy.Transport)
	}
	if !validLogLevels[config.Proxy.LogLevel] {
		errs.Add("proxy.logLevel", "must be debug, info, warn, or error, got %q", config.Proxy.LogLevel)
	}
	if config.Proxy.Transport != "stdio" && (config.Proxy.Port <= 0 || config.Proxy.Port > 65535) {
		errs.Add("proxy.port", "must be between 1 and 65535, got %d", config.Proxy.Port)
	}

	seen := make(map[string]bool)
	for i, descriptor := range config.Backends {
		prefix := fmt.Sprintf("backends[%d]", i)
		if descriptor.Name != "" {
			prefix = fmt.Sprintf("backends[%s]", descriptor.Name)
		}
		validateBackend(&errs, prefix, descriptor)

		if seen[descriptor.Name] {
			errs.Add(prefix+".name", "duplicate backend name %q", descriptor.Name)
		}
		seen[descriptor.Name] = true
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateBackend checks a single descriptor, as used by the hot reload
// watcher.
func ValidateBackend(d BackendDescriptor) error {
	var errs ValidationErrors
	validateBackend(&errs, "backend", d)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateBackend(errs *ValidationErrors, prefix string, d BackendDescriptor) {
	if d.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}
	if strings.Contains(d.Name, "__") {
		errs.Add(prefix+".name", "name must not contain '__', got %q", d.Name)
	}

	switch d.Type {
	case TypeStdio:
		if d.Command == "" {
			errs.Add(prefix+".command", "command is required for stdio backends")
		}
	case TypeSocket:
		if d.Address == "" {
			errs.Add(prefix+".address", "address is required for socket backends")
		}
		if d.Network != "" && d.Network != "tcp" && d.Network != "unix" {
			errs.Add(prefix+".network", "must be tcp or unix, got %q", d.Network)
		}
	case TypeStreamableHTTP, TypeSSE:
		if d.URL == "" {
			errs.Add(prefix+".url", "url is required for %s backends", d.Type)
		}
	default:
		errs.Add(prefix+".type", "must be stdio, socket, streamable-http, or sse, got %q", d.Type)
	}

	if r := d.Reconnect; r != nil {
		if r.InitialDelay < 0 {
			errs.Add(prefix+".reconnect.initialDelay", "must not be negative")
		}
		if r.MaxDelay > 0 && r.InitialDelay > r.MaxDelay {
			errs.Add(prefix+".reconnect.maxDelay", "must not be smaller than initialDelay")
		}
		if r.Multiplier < 0 || (r.Multiplier > 0 && r.Multiplier < 1) {
			errs.Add(prefix+".reconnect.multiplier", "must be at least 1, got %g", r.Multiplier)
		}
		if r.MaxAttempts != nil && *r.MaxAttempts < 0 {
			errs.Add(prefix+".reconnect.maxAttempts", "must not be negative")
		}
		if r.Jitter != nil && (*r.Jitter < 0 || *r.Jitter > 1) {
			errs.Add(prefix+".reconnect.jitter", "must be between 0 and 1, got %g", *r.Jitter)
		}
	}

	if a := d.Auth; a != nil {
		switch a.Type {
		case "static":
			if len(a.Headers) == 0 {
				errs.Add(prefix+".auth.headers", "headers are required for static auth")
			}
		case "oauth":
			if a.TokenURL == "" {
				errs.Add(prefix+".auth.tokenUrl", "tokenUrl is required for oauth auth")
			}
			if a.ClientID == "" {
				errs.Add(prefix+".auth.clientId", "clientId is required for oauth auth")
			}
		default:
			errs.Add(prefix+".auth.type", "must be static or oauth, got %q", a.Type)
		}
	}
}
