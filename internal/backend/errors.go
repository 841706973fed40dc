package backend

import (
	"errors"
	"fmt"
)

// ErrReconnectExhausted is returned by ScheduleReconnect once the retry
// budget is spent. The connection moves to StateFailed and stays there
// until a manual Reconnect().
var ErrReconnectExhausted = errors.New("reconnection attempts exhausted")

// ErrManuallyClosed is returned for operations on a connection that was
// closed on purpose. A manually closed connection never reconnects on
// its own.
var ErrManuallyClosed = errors.New("connection manually closed")

// ErrNotConnected is returned when a request is attempted while the
// underlying channel is down.
var ErrNotConnected = errors.New("backend not connected")

// DisconnectedError marks request failures caused by the connection
// dropping mid-flight. Pending requests are rejected with it when the
// channel closes.
type DisconnectedError struct {
	Backend string
	Reason  error
}

func (e *DisconnectedError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("backend %s disconnected: %v", e.Backend, e.Reason)
	}
	return fmt.Sprintf("backend %s disconnected", e.Backend)
}

func (e *DisconnectedError) Unwrap() error {
	return e.Reason
}
