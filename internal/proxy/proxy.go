// Package proxy owns the backend connections and routes tool calls from
// the upstream client to the right backend.
package proxy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"

	"toolgate/internal/auth"
	"toolgate/internal/backend"
	"toolgate/internal/config"
	"toolgate/internal/registry"
	"toolgate/internal/secret"
	"toolgate/pkg/logging"
)

// Proxy aggregates many backend tool servers behind one routable surface.
// Each backend runs its own connection lifecycle; a failure on one never
// blocks discovery, routing, or reconnection of another.
type Proxy struct {
	cfg      config.Config
	registry *registry.Registry
	clock    backend.Clock

	mu       sync.RWMutex
	backends map[string]*backendHandle
}

type backendHandle struct {
	descriptor  config.BackendDescriptor
	client      *backend.ReconnectableClient
	unsubscribe func()
}

// New creates a proxy from the configuration. Backends are not connected
// until Start.
func New(cfg config.Config) *Proxy {
	p := &Proxy{
		cfg:      cfg,
		registry: registry.New(cfg.Visibility),
		clock:    backend.RealClock(),
		backends: make(map[string]*backendHandle),
	}
	p.registerAdminTools()
	return p
}

// Registry exposes the tool registry, primarily for the server surface.
func (p *Proxy) Registry() *registry.Registry {
	return p.registry
}

// Start brings up every configured backend concurrently. A backend whose
// first attempt fails keeps retrying on its own; Start only reports
// configuration-level failures.
func (p *Proxy) Start(ctx context.Context) error {
	for _, descriptor := range p.cfg.Backends {
		if _, err := p.AddBackend(descriptor); err != nil {
			return err
		}
	}

	p.mu.RLock()
	handles := make([]*backendHandle, 0, len(p.backends))
	for _, h := range p.backends {
		handles = append(handles, h)
	}
	p.mu.RUnlock()

	// A plain group: start failures never abort the others, and no derived
	// context exists to be cancelled out from under live connections once
	// startup completes.
	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if err := h.client.Start(ctx); err != nil {
				// The reconnect schedule owns recovery from here.
				logging.Warn("Proxy", "Backend %s: start failed: %v", h.descriptor.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stop closes every backend and drops their observers.
func (p *Proxy) Stop() {
	p.mu.Lock()
	handles := p.backends
	p.backends = make(map[string]*backendHandle)
	p.mu.Unlock()

	for name, h := range handles {
		h.unsubscribe()
		if err := h.client.Destroy(); err != nil {
			logging.Warn("Proxy", "Backend %s: error during shutdown: %v", name, err)
		}
	}
}

// AddBackend registers a backend from its descriptor without starting it.
func (p *Proxy) AddBackend(descriptor config.BackendDescriptor) (*backend.ReconnectableClient, error) {
	return p.addBackend(descriptor, p.buildDialer(descriptor))
}

func (p *Proxy) addBackend(descriptor config.BackendDescriptor, dial backend.DialFunc) (*backend.ReconnectableClient, error) {
	name := descriptor.Name

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.backends[name]; exists {
		return nil, fmt.Errorf("backend %s already registered", name)
	}

	var opts []backend.ReconnectableOption
	if descriptor.HealthChecksEnabled() {
		opts = append(opts, backend.WithHealthChecks(descriptor.ResolvedHealthInterval()))
	}

	client := backend.NewReconnectableClient(name, dial,
		descriptor.ReconnectPolicy(), p.clock, opts...)

	// Purge runs inside the disconnect path, before the state transition
	// broadcasts, so no observer can see a non-connected backend with
	// routable tools.
	client.SetDisconnectHook(func(error) {
		p.registry.RemoveToolsFromServer(name)
	})
	unsubscribe := client.Subscribe(func(tr backend.Transition) {
		if tr.To == backend.StateConnected {
			go p.discoverTools(name)
		}
	})

	p.backends[name] = &backendHandle{
		descriptor:  descriptor,
		client:      client,
		unsubscribe: unsubscribe,
	}
	return client, nil
}

// RemoveBackend closes a backend and deletes it from the proxy. Its tools
// are purged through the disconnect hook.
func (p *Proxy) RemoveBackend(name string) error {
	p.mu.Lock()
	handle, ok := p.backends[name]
	if ok {
		delete(p.backends, name)
	}
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown backend %s", name)
	}
	handle.unsubscribe()
	return handle.client.Destroy()
}

// ReloadBackend applies a changed descriptor: the old connection is torn
// down and a new one started in its place.
func (p *Proxy) ReloadBackend(ctx context.Context, descriptor config.BackendDescriptor) error {
	if err := p.RemoveBackend(descriptor.Name); err != nil {
		logging.Debug("Proxy", "Backend %s: not previously registered: %v", descriptor.Name, err)
	}
	client, err := p.AddBackend(descriptor)
	if err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		logging.Warn("Proxy", "Backend %s: start after reload failed: %v", descriptor.Name, err)
	}
	return nil
}

// buildDialer returns the dial function matching the descriptor's
// transport type.
func (p *Proxy) buildDialer(descriptor config.BackendDescriptor) backend.DialFunc {
	name := descriptor.Name
	timeout := descriptor.RequestTimeout.Std()

	switch descriptor.Type {
	case config.TypeSocket:
		return func() backend.Client {
			transport := backend.NewSocketTransport(name, descriptor.Network, descriptor.Address)
			return p.newProtocolClient(name, transport, timeout)
		}

	case config.TypeStreamableHTTP, config.TypeSSE:
		kind := backend.RemoteStreamableHTTP
		if descriptor.Type == config.TypeSSE {
			kind = backend.RemoteSSE
		}
		provider := buildAuthProvider(descriptor.Auth)
		return func() backend.Client {
			return backend.NewRemoteClient(name, kind, descriptor.URL, descriptor.Headers, provider)
		}

	default: // stdio
		return func() backend.Client {
			env, err := resolveEnv(descriptor)
			if err != nil {
				return &failedDial{name: name, err: err}
			}
			transport := backend.NewStdioTransport(name, descriptor.Command, descriptor.Args, env)
			return p.newProtocolClient(name, transport, timeout)
		}
	}
}

func (p *Proxy) newProtocolClient(name string, transport backend.Transport, timeout time.Duration) backend.Client {
	client := backend.NewProtocolClient(name, transport, timeout)
	client.SetNotificationHandler(func(method string, params map[string]any) {
		if method == "notifications/tools/list_changed" {
			go p.refreshTools(name)
		}
	})
	return client
}

// resolveEnv merges the descriptor's static env with its secret sources.
// Merge order is env passthrough, file, inline static; later wins.
func resolveEnv(descriptor config.BackendDescriptor) (map[string]string, error) {
	providers := []secret.Provider{secret.NewStaticProvider(descriptor.Env)}
	if s := descriptor.Secrets; s != nil {
		if len(s.FromEnv) > 0 {
			providers = append(providers, secret.NewEnvProvider(s.FromEnv))
		}
		if s.FromFile != "" {
			providers = append(providers, secret.NewFileProvider(s.FromFile))
		}
		if len(s.Static) > 0 {
			providers = append(providers, secret.NewStaticProvider(s.Static))
		}
	}
	return secret.Merge(context.Background(), providers...)
}

// buildAuthProvider constructs the credential provider for a remote
// backend, or nil when none is configured.
func buildAuthProvider(cfg *config.AuthConfig) auth.Provider {
	if cfg == nil {
		return nil
	}
	switch cfg.Type {
	case "oauth":
		cc := clientcredentials.Config{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
		}
		return auth.NewTokenProvider(cc.TokenSource(context.Background()))
	default:
		return auth.NewStaticProvider(cfg.Headers)
	}
}

// discoverTools lists a freshly connected backend's tools and registers
// them.
func (p *Proxy) discoverTools(name string) {
	handle := p.handle(name)
	if handle == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backend.DefaultRequestTimeout)
	defer cancel()

	tools, err := handle.client.ListTools(ctx)
	if err != nil {
		logging.Error("Proxy", err, "Backend %s: tool discovery failed", name)
		return
	}
	p.registry.RegisterServerTools(name, tools)
}

// refreshTools re-lists a backend's tools after a list-changed
// notification and swaps the registered set in one pass.
func (p *Proxy) refreshTools(name string) {
	handle := p.handle(name)
	if handle == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backend.DefaultRequestTimeout)
	defer cancel()

	tools, err := handle.client.ListTools(ctx)
	if err != nil {
		logging.Error("Proxy", err, "Backend %s: tool refresh failed", name)
		return
	}
	p.registry.HotReloadCommand(name, tools)
}

func (p *Proxy) handle(name string) *backendHandle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.backends[name]
}

// CallTool resolves a full tool name and forwards the call. Routing
// failures come back as *RoutingError.
func (p *Proxy) CallTool(ctx context.Context, fullName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	entry, ok := p.registry.GetTool(fullName)
	if !ok {
		return nil, &RoutingError{Code: RoutingNotFound, Tool: fullName}
	}

	switch entry.Backing.Kind {
	case registry.CommandBacked:
		return entry.Backing.Handler(ctx, args)

	case registry.ClientBacked:
		handle := p.handle(entry.Backing.Backend)
		if handle == nil || handle.client.State() != backend.StateConnected {
			return nil, &RoutingError{
				Code:    RoutingNotConnected,
				Tool:    fullName,
				Backend: entry.Backing.Backend,
			}
		}
		return handle.client.CallTool(ctx, entry.OriginalName, args)

	default:
		return nil, fmt.Errorf("tool %s has unknown backing kind %d", fullName, entry.Backing.Kind)
	}
}

// ServerStatus is one backend's connection summary.
type ServerStatus struct {
	Name       string
	State      backend.ConnectionState
	RetryCount int
	LastChange time.Time
	// LastError is the most recent connection error, nil while healthy.
	LastError error
	ToolCount int
}

// GetServerStatus returns the status of one backend, or an error for an
// unknown name.
func (p *Proxy) GetServerStatus(name string) (ServerStatus, error) {
	handle := p.handle(name)
	if handle == nil {
		return ServerStatus{}, fmt.Errorf("unknown backend %s", name)
	}
	return p.statusOf(name, handle), nil
}

// ServerStatuses returns every backend's status, sorted by name.
func (p *Proxy) ServerStatuses() []ServerStatus {
	p.mu.RLock()
	statuses := make([]ServerStatus, 0, len(p.backends))
	for name, handle := range p.backends {
		statuses = append(statuses, p.statusOf(name, handle))
	}
	p.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (p *Proxy) statusOf(name string, handle *backendHandle) ServerStatus {
	toolCount := 0
	for _, entry := range p.registry.AllEntries() {
		if entry.BackendName == name {
			toolCount++
		}
	}
	return ServerStatus{
		Name:       name,
		State:      handle.client.State(),
		RetryCount: handle.client.RetryCount(),
		LastChange: handle.client.LastChange(),
		LastError:  handle.client.LastError(),
		ToolCount:  toolCount,
	}
}

// ReconnectServer forces a fresh connection cycle for one backend. The
// retry budget resets. Unknown names are an error.
func (p *Proxy) ReconnectServer(ctx context.Context, name string) error {
	handle := p.handle(name)
	if handle == nil {
		return fmt.Errorf("unknown backend %s", name)
	}
	logging.Info("Proxy", "Backend %s: manual reconnect requested", name)
	return handle.client.Reconnect(ctx)
}

// DisconnectServer closes one backend on purpose; it will not reconnect
// until ReconnectServer. Disconnecting an already disconnected backend is
// an error, as is an unknown name.
func (p *Proxy) DisconnectServer(name string) error {
	handle := p.handle(name)
	if handle == nil {
		return fmt.Errorf("unknown backend %s", name)
	}
	if handle.client.State() == backend.StateDisconnected {
		return fmt.Errorf("backend %s is already disconnected", name)
	}
	logging.Info("Proxy", "Backend %s: manual disconnect requested", name)
	return handle.client.Close()
}

// failedDial is a Client whose Initialize reports the dial-time error,
// feeding it into the normal reconnect path.
type failedDial struct {
	name string
	err  error
}

func (f *failedDial) Initialize(ctx context.Context) error {
	return fmt.Errorf("preparing backend %s: %w", f.name, f.err)
}

func (f *failedDial) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return nil, backend.ErrNotConnected
}

func (f *failedDial) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return nil, backend.ErrNotConnected
}

func (f *failedDial) Ping(ctx context.Context) error {
	return backend.ErrNotConnected
}

func (f *failedDial) Close() error {
	return nil
}
