package backend

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is a single JSON-RPC style frame exchanged with a backend.
// Requests carry ID, Method and Params; responses carry ID plus Result or
// Error; notifications carry Method without an ID.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  map[string]any  `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *MessageError   `json:"error,omitempty"`
}

// MessageError is the error member of a response frame.
type MessageError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
}

// IsResponse reports whether the message answers a request.
func (m *Message) IsResponse() bool {
	return m.ID != "" && m.Method == ""
}

// Handlers carries the callbacks a Transport delivers events through.
// All fields are optional.
type Handlers struct {
	// OnMessage is invoked for every inbound frame.
	OnMessage func(*Message)
	// OnError is invoked for frame-level failures that do not kill the
	// transport, e.g. an undecodable line.
	OnError func(error)
	// OnClose is invoked exactly once when the transport shuts down,
	// with the terminal error or nil for a clean close.
	OnClose func(error)
}

// Transport moves frames to and from one backend process or endpoint.
// Implementations deliver inbound traffic through the Handlers set before
// Start.
type Transport interface {
	// SetHandlers registers the event callbacks. Must be called before
	// Start.
	SetHandlers(Handlers)
	// Start establishes the channel and begins reading. It returns once
	// the channel is usable; reading continues on its own goroutine.
	Start(ctx context.Context) error
	// Send writes one frame. Safe for concurrent use.
	Send(*Message) error
	// Close tears the channel down. Idempotent.
	Close() error
}
