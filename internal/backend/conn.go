package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"toolgate/pkg/logging"
)

// DefaultRequestTimeout bounds a single request/response round trip when
// the caller's context carries no deadline of its own.
const DefaultRequestTimeout = 30 * time.Second

// Conn multiplexes request/response traffic over a Transport. Each request
// gets a fresh correlation ID, and the matching response is routed back to
// the goroutine that sent it. Correlation state lives on the Conn, so two
// backends never share an ID space.
type Conn struct {
	name      string
	transport Transport
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]chan *Message
	closed  bool

	// onNotify receives inbound frames that are not responses, such as
	// tools/list_changed notifications.
	onNotify func(*Message)
	// onClose propagates transport shutdown to the owner.
	onClose func(error)
}

// NewConn wraps a transport in a correlation multiplexer. A zero timeout
// uses DefaultRequestTimeout.
func NewConn(name string, transport Transport, timeout time.Duration) *Conn {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	c := &Conn{
		name:      name,
		transport: transport,
		timeout:   timeout,
		pending:   make(map[string]chan *Message),
	}
	transport.SetHandlers(Handlers{
		OnMessage: c.handleMessage,
		OnError: func(err error) {
			logging.Warn("Conn", "Backend %s: transport error: %v", name, err)
		},
		OnClose: c.handleClose,
	})
	return c
}

// SetNotificationHandler registers the callback for inbound frames that
// are not responses. Must be called before Start.
func (c *Conn) SetNotificationHandler(fn func(*Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotify = fn
}

// SetCloseHandler registers the callback invoked when the underlying
// transport shuts down. Must be called before Start.
func (c *Conn) SetCloseHandler(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Start brings the underlying transport up.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()
	return c.transport.Start(ctx)
}

// Request sends a request frame and blocks until the matching response
// arrives, the context is done, or the per-request timeout expires.
func (c *Conn) Request(ctx context.Context, method string, params map[string]any) (*Message, error) {
	id := uuid.NewString()
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &DisconnectedError{Backend: c.name}
	}
	c.pending[id] = ch
	c.mu.Unlock()

	msg := &Message{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if err := c.transport.Send(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("sending %s to backend %s: %w", method, c.name, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, &DisconnectedError{Backend: c.name}
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("request %s to backend %s timed out after %s", method, c.name, c.timeout)
	}
}

// Notify sends a frame without waiting for a response.
func (c *Conn) Notify(method string, params map[string]any) error {
	return c.transport.Send(&Message{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

// Close shuts the transport down. Pending requests are rejected via the
// transport's close handler.
func (c *Conn) Close() error {
	return c.transport.Close()
}

func (c *Conn) handleMessage(msg *Message) {
	if !msg.IsResponse() {
		c.mu.Lock()
		notify := c.onNotify
		c.mu.Unlock()
		if notify != nil {
			notify(msg)
		}
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		logging.Debug("Conn", "Backend %s: dropping response for unknown id %s", c.name, msg.ID)
		return
	}
	ch <- msg
}

// handleClose rejects every pending request and forwards the shutdown to
// the owner. Runs at most the work for requests pending at close time;
// later requests fail fast in Request.
func (c *Conn) handleClose(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan *Message)
	onClose := c.onClose
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- nil
	}
	if len(pending) > 0 {
		logging.Debug("Conn", "Backend %s: rejected %d pending requests on close", c.name, len(pending))
	}
	if onClose != nil {
		onClose(err)
	}
}
