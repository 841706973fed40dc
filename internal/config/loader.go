package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"toolgate/pkg/logging"
)

const (
	userConfigDir  = ".config/toolgate"
	configFileName = "config.yaml"
	backendsDir    = "backends"
)

// DefaultConfigPath returns the per-user configuration directory.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// Load reads the configuration from a directory: config.yaml for the
// proxy and visibility settings, plus one yaml file per backend under
// backends/. A missing config.yaml falls back to defaults; a missing
// backends directory means no backends.
func Load(configPath string) (Config, error) {
	config := DefaultConfig()

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("Config", "No config.yaml at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("reading %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", configFilePath, err)
		}
		logging.Info("Config", "Loaded configuration from %s", configFilePath)
	}

	backends, err := LoadBackends(filepath.Join(configPath, backendsDir))
	if err != nil {
		return Config{}, err
	}
	config.Backends = append(config.Backends, backends...)

	if err := Validate(config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadBackends reads every backend descriptor file from a directory, in
// file name order. A missing directory yields an empty list.
func LoadBackends(dir string) ([]BackendDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backends directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var backends []BackendDescriptor
	for _, name := range names {
		descriptor, err := LoadBackendFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		backends = append(backends, descriptor)
	}
	return backends, nil
}

// LoadBackendFile reads one backend descriptor. A descriptor without a
// name takes the file's base name.
func LoadBackendFile(path string) (BackendDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BackendDescriptor{}, fmt.Errorf("reading backend file %s: %w", path, err)
	}

	var descriptor BackendDescriptor
	if err := yaml.Unmarshal(data, &descriptor); err != nil {
		return BackendDescriptor{}, fmt.Errorf("parsing backend file %s: %w", path, err)
	}
	if descriptor.Name == "" {
		base := filepath.Base(path)
		descriptor.Name = strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
	}
	return descriptor, nil
}
