package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadMissingConfigUsesDefaults(t *testing.T) {
	config, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "streamable-http", config.Proxy.Transport)
	assert.Equal(t, 8090, config.Proxy.Port)
	assert.Empty(t, config.Backends)
}

func TestLoadFullConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
proxy:
  transport: sse
  host: 0.0.0.0
  port: 9000
  logLevel: debug
visibility:
  hideTools:
    - "gh__secret_*"
  alwaysVisibleTools:
    - "gh__important"
`)
	writeFile(t, filepath.Join(dir, "backends", "gh.yaml"), `
type: stdio
command: gh-tools
args: ["--serve"]
env:
  MODE: proxy
reconnect:
  initialDelay: 100ms
  maxDelay: 5s
  multiplier: 2
  maxAttempts: 3
  jitter: 0.1
healthInterval: 10s
`)
	writeFile(t, filepath.Join(dir, "backends", "remote.yaml"), `
name: jira
type: streamable-http
url: https://jira.example.com/mcp
auth:
  type: static
  headers:
    X-Api-Key: abc
`)

	config, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "sse", config.Proxy.Transport)
	assert.Equal(t, 9000, config.Proxy.Port)
	assert.Equal(t, []string{"gh__secret_*"}, config.Visibility.HideTools)

	require.Len(t, config.Backends, 2)

	gh := config.Backends[0]
	assert.Equal(t, "gh", gh.Name, "name defaults from file name")
	assert.Equal(t, TypeStdio, gh.Type)
	assert.Equal(t, "gh-tools", gh.Command)

	policy := gh.ReconnectPolicy()
	assert.Equal(t, 100*time.Millisecond, policy.InitialDelay)
	assert.Equal(t, 5*time.Second, policy.MaxDelay)
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 10*time.Second, gh.ResolvedHealthInterval())

	jira := config.Backends[1]
	assert.Equal(t, "jira", jira.Name)
	assert.Equal(t, TypeStreamableHTTP, jira.Type)
	require.NotNil(t, jira.Auth)
	assert.Equal(t, "static", jira.Auth.Type)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "backends", "bad.yaml"), `
type: stdio
`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command is required")
}

func TestReconnectPolicyDefaults(t *testing.T) {
	d := BackendDescriptor{}
	policy := d.ReconnectPolicy()

	assert.Equal(t, 1*time.Second, policy.InitialDelay)
	assert.Equal(t, 30*time.Second, policy.MaxDelay)
	assert.Equal(t, 10, policy.MaxAttempts)
}

func TestReconnectPolicyZeroMaxAttempts(t *testing.T) {
	zero := 0
	d := BackendDescriptor{Reconnect: &ReconnectConfig{MaxAttempts: &zero}}

	assert.Zero(t, d.ReconnectPolicy().MaxAttempts)
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		expected time.Duration
		wantErr  bool
	}{
		{name: "duration string", yaml: "initialDelay: 1m30s", expected: 90 * time.Second},
		{name: "milliseconds", yaml: "initialDelay: 250ms", expected: 250 * time.Millisecond},
		{name: "bare seconds", yaml: "initialDelay: 5", expected: 5 * time.Second},
		{name: "garbage", yaml: "initialDelay: soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg ReconnectConfig
			err := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.InitialDelay.Std())
		})
	}
}
