// Package secret resolves the environment secrets injected into local
// backend subprocesses.
package secret

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Provider resolves one source of secrets into key/value pairs.
type Provider interface {
	Resolve(ctx context.Context) (map[string]string, error)
}

// StaticProvider serves an inline key/value map.
type StaticProvider struct {
	values map[string]string
}

// NewStaticProvider creates a provider over the given map.
func NewStaticProvider(values map[string]string) *StaticProvider {
	return &StaticProvider{values: values}
}

// Resolve returns a copy of the configured values.
func (p *StaticProvider) Resolve(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out, nil
}

// EnvProvider passes through the listed keys from the process
// environment. Unset keys are skipped, not errors.
type EnvProvider struct {
	keys []string
}

// NewEnvProvider creates a provider for the given environment keys.
func NewEnvProvider(keys []string) *EnvProvider {
	return &EnvProvider{keys: keys}
}

// Resolve reads the listed keys from the environment.
func (p *EnvProvider) Resolve(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(p.keys))
	for _, key := range p.keys {
		if value, ok := os.LookupEnv(key); ok {
			out[key] = value
		}
	}
	return out, nil
}

// FileProvider reads a flat yaml key/value file.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider reading the given file.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Resolve loads and parses the secrets file.
func (p *FileProvider) Resolve(ctx context.Context) (map[string]string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file %s: %w", p.path, err)
	}

	values := make(map[string]string)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", p.path, err)
	}
	return values, nil
}

// Merge resolves every provider in order and merges the results, later
// providers overriding earlier ones.
func Merge(ctx context.Context, providers ...Provider) (map[string]string, error) {
	merged := make(map[string]string)
	for _, p := range providers {
		values, err := p.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	return merged, nil
}
