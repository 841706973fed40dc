package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient is a Client whose connection attempts succeed or fail per
// a script, and whose connection can be dropped on demand.
type scriptedClient struct {
	mu      sync.Mutex
	initErr error
	tools   []mcp.Tool
	onClose func(error)
	closed  bool
}

func (c *scriptedClient) SetCloseHandler(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *scriptedClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initErr
}

func (c *scriptedClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools, nil
}

func (c *scriptedClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText("ok"), nil
}

func (c *scriptedClient) Ping(ctx context.Context) error {
	return nil
}

func (c *scriptedClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// drop simulates the connection being lost out from under the client.
func (c *scriptedClient) drop(err error) {
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// scriptedDialer produces scriptedClients, failing the first failures
// attempts.
type scriptedDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	clients  []*scriptedClient
}

func (d *scriptedDialer) dial() Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	c := &scriptedClient{}
	if d.dials <= d.failures {
		c.initErr = errors.New("connection refused")
	}
	d.clients = append(d.clients, c)
	return c
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *scriptedDialer) latest() *scriptedClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}

func newTestReconnectable(dialer *scriptedDialer, clock Clock) *ReconnectableClient {
	return NewReconnectableClient("test", dialer.dial, testPolicy(), clock)
}

func TestReconnectableStartConnects(t *testing.T) {
	dialer := &scriptedDialer{}
	rc := newTestReconnectable(dialer, newFakeClock())

	require.NoError(t, rc.Start(context.Background()))
	assert.Equal(t, StateConnected, rc.State())
	assert.Zero(t, rc.RetryCount())
}

func TestReconnectableStartFailureSchedulesRetry(t *testing.T) {
	clock := newFakeClock()
	dialer := &scriptedDialer{failures: 1}
	rc := newTestReconnectable(dialer, clock)

	err := rc.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateReconnecting, rc.State())
	require.Equal(t, 1, clock.armed())

	// Retry fires and the second dial succeeds.
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return rc.State() == StateConnected }, time.Second, time.Millisecond)
	assert.Equal(t, 2, dialer.dialCount())
	assert.Zero(t, rc.RetryCount())
}

func TestReconnectableLostConnectionTriggersBackoffChain(t *testing.T) {
	clock := newFakeClock()
	dialer := &scriptedDialer{}
	rc := newTestReconnectable(dialer, clock)

	var transitions []Transition
	var mu sync.Mutex
	rc.Subscribe(func(tr Transition) {
		mu.Lock()
		transitions = append(transitions, tr)
		mu.Unlock()
	})

	require.NoError(t, rc.Start(context.Background()))

	// All future dials fail, then the connection drops.
	dialer.mu.Lock()
	dialer.failures = 100
	dialer.mu.Unlock()
	dialer.latest().drop(errors.New("broken pipe"))

	require.Eventually(t, func() bool { return rc.State() == StateReconnecting }, time.Second, time.Millisecond)

	// Three failed attempts at 100, 200, 400ms exhaust the budget.
	for _, d := range []time.Duration{100, 200, 400} {
		require.Eventually(t, func() bool { return clock.armed() == 1 }, time.Second, time.Millisecond)
		clock.Advance(d * time.Millisecond)
	}
	require.Eventually(t, func() bool { return rc.State() == StateFailed }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var reconnecting int
	for _, tr := range transitions {
		if tr.To == StateReconnecting {
			reconnecting++
		}
	}
	assert.GreaterOrEqual(t, reconnecting, 1)
	assert.Equal(t, StateFailed, transitions[len(transitions)-1].To)
}

func TestReconnectableBroadcastsBackoffProgress(t *testing.T) {
	clock := newFakeClock()
	dialer := &scriptedDialer{failures: 100}
	rc := newTestReconnectable(dialer, clock)

	var mu sync.Mutex
	var reconnecting []Transition
	rc.Subscribe(func(tr Transition) {
		if tr.To == StateReconnecting {
			mu.Lock()
			reconnecting = append(reconnecting, tr)
			mu.Unlock()
		}
	})

	rc.Start(context.Background())

	// Each failed attempt re-arms with doubled delay; observers follow
	// the whole chain, not just the first arm.
	for _, d := range []time.Duration{100, 200, 400} {
		require.Eventually(t, func() bool { return clock.armed() == 1 }, time.Second, time.Millisecond)
		clock.Advance(d * time.Millisecond)
	}
	require.Eventually(t, func() bool { return rc.State() == StateFailed }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reconnecting) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []struct {
		retries int
		delay   time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
	} {
		assert.Equal(t, want.retries, reconnecting[i].RetryCount)
		assert.Equal(t, want.delay, reconnecting[i].NextRetryDelay)
		assert.Error(t, reconnecting[i].Err)
	}
}

func TestReconnectableManualCloseSuppressesReconnect(t *testing.T) {
	clock := newFakeClock()
	dialer := &scriptedDialer{}
	rc := newTestReconnectable(dialer, clock)

	require.NoError(t, rc.Start(context.Background()))
	client := dialer.latest()

	require.NoError(t, rc.Close())
	assert.Equal(t, StateDisconnected, rc.State())

	// A late close notification from the old client must not resurrect
	// the connection.
	client.drop(errors.New("broken pipe"))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StateDisconnected, rc.State())
	assert.Zero(t, clock.armed())
	assert.Equal(t, 1, dialer.dialCount())
}

func TestReconnectableCloseResetsRetryCount(t *testing.T) {
	clock := newFakeClock()
	dialer := &scriptedDialer{failures: 100}
	rc := newTestReconnectable(dialer, clock)

	rc.Start(context.Background())
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return rc.RetryCount() >= 1 }, time.Second, time.Millisecond)

	require.NoError(t, rc.Close())
	assert.Zero(t, rc.RetryCount())
	assert.Zero(t, clock.armed())
}

func TestReconnectableDisconnectHookRunsBeforeTransition(t *testing.T) {
	clock := newFakeClock()
	dialer := &scriptedDialer{}
	rc := newTestReconnectable(dialer, clock)

	var order []string
	var mu sync.Mutex
	rc.SetDisconnectHook(func(err error) {
		mu.Lock()
		order = append(order, "hook")
		mu.Unlock()
	})
	rc.Subscribe(func(tr Transition) {
		if tr.To == StateReconnecting {
			mu.Lock()
			order = append(order, "observer")
			mu.Unlock()
		}
	})

	require.NoError(t, rc.Start(context.Background()))
	dialer.mu.Lock()
	dialer.failures = 100
	dialer.mu.Unlock()
	dialer.latest().drop(errors.New("broken pipe"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hook", "observer"}, order)
}

func TestReconnectableManualReconnectFromFailed(t *testing.T) {
	clock := newFakeClock()
	dialer := &scriptedDialer{failures: 100}
	rc := newTestReconnectable(dialer, clock)

	rc.Start(context.Background())
	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool { return clock.armed() == 1 }, time.Second, time.Millisecond)
		clock.Advance(10 * time.Second)
	}
	require.Eventually(t, func() bool { return rc.State() == StateFailed }, time.Second, time.Millisecond)

	// Allow connections again and force a manual reconnect.
	dialer.mu.Lock()
	dialer.failures = dialer.dials
	dialer.mu.Unlock()

	require.NoError(t, rc.Reconnect(context.Background()))
	assert.Equal(t, StateConnected, rc.State())
	assert.Zero(t, rc.RetryCount())
}

func TestReconnectableCallToolWhenDisconnected(t *testing.T) {
	dialer := &scriptedDialer{}
	rc := newTestReconnectable(dialer, newFakeClock())

	_, err := rc.CallTool(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectableCallToolAfterClose(t *testing.T) {
	dialer := &scriptedDialer{}
	rc := newTestReconnectable(dialer, newFakeClock())
	require.NoError(t, rc.Start(context.Background()))
	require.NoError(t, rc.Close())

	_, err := rc.CallTool(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrManuallyClosed)
}

func TestReconnectableCallToolWhenConnected(t *testing.T) {
	dialer := &scriptedDialer{}
	rc := newTestReconnectable(dialer, newFakeClock())
	require.NoError(t, rc.Start(context.Background()))

	result, err := rc.CallTool(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestReconnectableDestroyDropsObservers(t *testing.T) {
	dialer := &scriptedDialer{}
	rc := newTestReconnectable(dialer, newFakeClock())

	var count int
	rc.Subscribe(func(Transition) { count++ })
	require.NoError(t, rc.Start(context.Background()))
	before := count

	require.NoError(t, rc.Destroy())
	rc.states.Transition(StateConnecting, 0, 0, nil)

	// Destroy itself still notifies the Disconnected transition, but
	// nothing after it.
	assert.Equal(t, before+1, count)
}
