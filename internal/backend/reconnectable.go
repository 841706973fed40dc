package backend

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"toolgate/pkg/logging"
)

// DefaultHealthInterval is how often a connected backend is pinged when
// health checks are enabled and no interval is configured.
const DefaultHealthInterval = 30 * time.Second

// DialFunc builds a fresh Client for each connection attempt. The
// returned client must not be initialized yet.
type DialFunc func() Client

// closeNotifier is implemented by clients that can report their own
// connection loss, such as a dropped subprocess or socket.
type closeNotifier interface {
	SetCloseHandler(fn func(error))
}

// ReconnectableClient wraps a backend Client with automatic reconnection,
// a connection state machine, and optional periodic health checks.
//
// Lifecycle: Start moves Disconnected -> Connecting -> Connected. A lost
// connection moves to Reconnecting and retries per the backoff policy;
// exhausting the policy moves to Failed, where the backend stays until a
// manual Reconnect. A manual Close moves to Disconnected and suppresses
// all automatic reconnection.
type ReconnectableClient struct {
	name string
	dial DialFunc

	states  *StateMachine
	manager *ReconnectionManager

	healthInterval time.Duration
	healthChecks   bool

	mu             sync.Mutex
	client         Client
	manuallyClosed bool
	healthCancel   context.CancelFunc

	// onDisconnect runs before the state transition that makes the loss
	// observable, so the owner can purge routing state first.
	onDisconnect func(error)
}

// ReconnectableOption customizes a ReconnectableClient.
type ReconnectableOption func(*ReconnectableClient)

// WithHealthChecks enables periodic pings at the given interval. A zero
// interval uses DefaultHealthInterval.
func WithHealthChecks(interval time.Duration) ReconnectableOption {
	return func(c *ReconnectableClient) {
		c.healthChecks = true
		if interval > 0 {
			c.healthInterval = interval
		}
	}
}

// NewReconnectableClient wraps the dial factory with reconnection per the
// given policy. A nil clock uses the real wall clock.
func NewReconnectableClient(name string, dial DialFunc, policy ReconnectPolicy, clock Clock, opts ...ReconnectableOption) *ReconnectableClient {
	c := &ReconnectableClient{
		name:           name,
		dial:           dial,
		states:         NewStateMachine(),
		manager:        NewReconnectionManager(name, policy, clock),
		healthInterval: DefaultHealthInterval,
	}
	c.manager.SetExhaustedHandler(func(err error) {
		c.states.Transition(StateFailed, c.manager.RetryCount(), 0, err)
	})
	c.manager.SetRetryHandler(func(retryCount int, delay time.Duration, err error) {
		c.states.Transition(StateReconnecting, retryCount, delay, err)
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *ReconnectableClient) State() ConnectionState {
	return c.states.State()
}

// LastChange returns when the connection state last changed.
func (c *ReconnectableClient) LastChange() time.Time {
	return c.states.LastChange()
}

// LastError returns the most recent connection error, or nil while the
// backend is healthy.
func (c *ReconnectableClient) LastError() error {
	return c.states.LastError()
}

// RetryCount returns the number of consecutive failed reconnection
// attempts.
func (c *ReconnectableClient) RetryCount() int {
	return c.manager.RetryCount()
}

// Subscribe registers a state observer; the returned function
// unsubscribes it.
func (c *ReconnectableClient) Subscribe(fn Observer) func() {
	return c.states.Subscribe(fn)
}

// SetDisconnectHook registers the callback that runs when the connection
// is lost, before the state change becomes observable. Must be set before
// Start.
func (c *ReconnectableClient) SetDisconnectHook(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// Start connects the backend. On failure the reconnection schedule takes
// over; Start itself returns the first attempt's error so callers can log
// it, but the backend keeps retrying in the background unless the policy
// is already exhausted.
func (c *ReconnectableClient) Start(ctx context.Context) error {
	c.mu.Lock()
	c.manuallyClosed = false
	c.mu.Unlock()

	c.states.Transition(StateConnecting, 0, 0, nil)

	if err := c.connect(ctx); err != nil {
		logging.Warn("Backend", "Backend %s: initial connection failed: %v", c.name, err)
		c.scheduleReconnect(err)
		return err
	}
	return nil
}

// connect dials, initializes, and wires up the new client.
func (c *ReconnectableClient) connect(ctx context.Context) error {
	client := c.dial()

	if notifier, ok := client.(closeNotifier); ok {
		notifier.SetCloseHandler(func(err error) {
			c.handleConnectionLost(err)
		})
	}

	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return err
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.manager.Reset()
	c.states.Transition(StateConnected, 0, 0, nil)
	c.startHealthLoop()

	logging.Info("Backend", "Backend %s: connected", c.name)
	return nil
}

// handleConnectionLost reacts to an unexpected connection drop. Manual
// closes never reach the reconnection path.
func (c *ReconnectableClient) handleConnectionLost(cause error) {
	c.mu.Lock()
	if c.manuallyClosed {
		c.mu.Unlock()
		return
	}
	client := c.client
	c.client = nil
	hook := c.onDisconnect
	c.stopHealthLoopLocked()
	c.mu.Unlock()

	if client != nil {
		client.Close()
	}

	logging.Warn("Backend", "Backend %s: connection lost: %v", c.name, cause)

	// Routing state is purged before the transition so no observer can
	// see a non-connected backend with tools still registered.
	if hook != nil {
		hook(cause)
	}

	c.scheduleReconnect(cause)
}

// scheduleReconnect arms the next automatic attempt, or moves to Failed
// when the budget is spent.
func (c *ReconnectableClient) scheduleReconnect(cause error) {
	delay, err := c.manager.ScheduleReconnect(func() error {
		c.mu.Lock()
		if c.manuallyClosed {
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		return c.connect(context.Background())
	})
	if err != nil {
		c.states.Transition(StateFailed, c.manager.RetryCount(), 0, cause)
		return
	}
	c.states.Transition(StateReconnecting, c.manager.RetryCount(), delay, cause)
}

// Close disconnects on purpose. No reconnection is attempted afterwards
// and the retry count resets. Idempotent.
func (c *ReconnectableClient) Close() error {
	c.mu.Lock()
	if c.manuallyClosed && c.client == nil {
		c.mu.Unlock()
		return nil
	}
	c.manuallyClosed = true
	client := c.client
	c.client = nil
	hook := c.onDisconnect
	c.stopHealthLoopLocked()
	c.mu.Unlock()

	c.manager.Reset()

	var err error
	if client != nil {
		err = client.Close()
	}

	if hook != nil {
		hook(nil)
	}
	c.states.Transition(StateDisconnected, 0, 0, nil)

	logging.Info("Backend", "Backend %s: closed", c.name)
	return err
}

// Destroy closes the connection and drops all state observers. The client
// must not be reused afterwards.
func (c *ReconnectableClient) Destroy() error {
	err := c.Close()
	c.states.ClearObservers()
	return err
}

// Reconnect forces a fresh connection cycle with a reset retry budget.
// It works from any state, including Failed and Disconnected.
func (c *ReconnectableClient) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.manuallyClosed = true
	client := c.client
	c.client = nil
	hook := c.onDisconnect
	c.stopHealthLoopLocked()
	c.mu.Unlock()

	c.manager.Reset()
	if client != nil {
		client.Close()
	}

	// The old connection's routing state must be gone before the new
	// cycle becomes observable as Connecting.
	if hook != nil {
		hook(nil)
	}

	return c.Start(ctx)
}

// CallTool routes one tool call to the connected backend.
func (c *ReconnectableClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	client, err := c.currentClient()
	if err != nil {
		return nil, err
	}
	return client.CallTool(ctx, name, args)
}

// ListTools lists the connected backend's tools.
func (c *ReconnectableClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	client, err := c.currentClient()
	if err != nil {
		return nil, err
	}
	return client.ListTools(ctx)
}

// Ping checks the connected backend.
func (c *ReconnectableClient) Ping(ctx context.Context) error {
	client, err := c.currentClient()
	if err != nil {
		return err
	}
	return client.Ping(ctx)
}

func (c *ReconnectableClient) currentClient() (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manuallyClosed {
		return nil, ErrManuallyClosed
	}
	if c.client == nil || c.states.State() != StateConnected {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// startHealthLoop pings the backend periodically and treats a failed ping
// as a lost connection.
func (c *ReconnectableClient) startHealthLoop() {
	if !c.healthChecks {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.healthCancel != nil {
		c.healthCancel()
	}
	c.healthCancel = cancel
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				client, err := c.currentClient()
				if err != nil {
					return
				}
				pingCtx, pingCancel := context.WithTimeout(ctx, c.healthInterval)
				err = client.Ping(pingCtx)
				pingCancel()
				if err != nil {
					logging.Warn("Backend", "Backend %s: health check failed: %v", c.name, err)
					c.handleConnectionLost(err)
					return
				}
			}
		}
	}()
}

// stopHealthLoopLocked cancels the health loop. Callers must hold c.mu.
func (c *ReconnectableClient) stopHealthLoopLocked() {
	if c.healthCancel != nil {
		c.healthCancel()
		c.healthCancel = nil
	}
}
