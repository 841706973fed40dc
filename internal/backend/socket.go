package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"toolgate/pkg/logging"
)

// SocketTransport connects to a backend listening on a TCP or unix socket
// and exchanges newline-delimited JSON frames.
type SocketTransport struct {
	name    string
	network string
	address string

	mu       sync.Mutex
	handlers Handlers
	conn     net.Conn
	codec    *frameCodec
	closed   bool
	closeFn  sync.Once
}

// NewSocketTransport creates a transport dialing the given address.
// network is "tcp" or "unix".
func NewSocketTransport(name, network, address string) *SocketTransport {
	if network == "" {
		network = "tcp"
	}
	return &SocketTransport{
		name:    name,
		network: network,
		address: address,
	}
}

// SetHandlers registers the event callbacks.
func (t *SocketTransport) SetHandlers(h Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

// Start dials the backend and begins reading.
func (t *SocketTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return fmt.Errorf("socket transport for %s already started", t.name)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, t.network, t.address)
	if err != nil {
		return fmt.Errorf("dialing %s (%s %s): %w", t.name, t.network, t.address, err)
	}

	t.conn = conn
	t.codec = newFrameCodec(conn, conn)
	t.closed = false
	handlers := t.handlers

	go func() {
		err := t.codec.readLoop(handlers)
		t.finish(err)
	}()

	logging.Debug("Transport", "Backend %s: connected to %s %s", t.name, t.network, t.address)
	return nil
}

// Send writes one frame to the socket.
func (t *SocketTransport) Send(msg *Message) error {
	t.mu.Lock()
	codec := t.codec
	closed := t.closed
	t.mu.Unlock()

	if closed || codec == nil {
		return ErrNotConnected
	}
	return codec.writeFrame(msg)
}

// Close shuts the socket down. Idempotent.
func (t *SocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.closed = true
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.finish(nil)
	return nil
}

func (t *SocketTransport) finish(err error) {
	t.closeFn.Do(func() {
		t.mu.Lock()
		t.closed = true
		handlers := t.handlers
		t.mu.Unlock()

		if err == io.EOF || errors.Is(err, net.ErrClosed) {
			err = nil
		}
		if handlers.OnClose != nil {
			handlers.OnClose(err)
		}
	})
}
