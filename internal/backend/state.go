package backend

import (
	"sync"
	"time"
)

// ConnectionState represents the lifecycle state of a single backend
// connection.
type ConnectionState int

const (
	// StateDisconnected is the initial state, and the state after a
	// manual Close().
	StateDisconnected ConnectionState = iota
	// StateConnecting means a connection attempt is in progress.
	StateConnecting
	// StateConnected means the backend channel is live and routable.
	StateConnected
	// StateReconnecting means the connection was lost and a retry is
	// scheduled or in progress.
	StateReconnecting
	// StateFailed means all automatic retries were exhausted. The backend
	// stays here until a manual Reconnect().
	StateFailed
)

// String makes ConnectionState satisfy the fmt.Stringer interface.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transition describes one state change of a backend connection.
type Transition struct {
	From       ConnectionState
	To         ConnectionState
	RetryCount int
	// NextRetryDelay is the armed backoff delay when To is
	// StateReconnecting, zero otherwise.
	NextRetryDelay time.Duration
	Err            error
}

// Observer receives state transitions. Observers are invoked synchronously
// on the transitioning goroutine, in registration order, and must not block
// indefinitely.
type Observer func(Transition)

type observerEntry struct {
	fn Observer
}

// StateMachine tracks the connection state of one backend and broadcasts
// transitions to registered observers in FIFO registration order.
type StateMachine struct {
	mu        sync.Mutex
	state     ConnectionState
	changedAt time.Time
	lastErr   error
	observers []*observerEntry
}

// NewStateMachine creates a state machine in StateDisconnected.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		state:     StateDisconnected,
		changedAt: time.Now(),
	}
}

// State returns the current connection state.
func (m *StateMachine) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastChange returns when the state last changed.
func (m *StateMachine) LastChange() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

// LastError returns the error carried by the most recent failing
// transition, or nil after a successful connect.
func (m *StateMachine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Subscribe registers an observer and returns its unsubscribe function.
// Unsubscribing is idempotent; calling the returned function more than once
// is a no-op.
func (m *StateMachine) Subscribe(fn Observer) func() {
	entry := &observerEntry{fn: fn}

	m.mu.Lock()
	m.observers = append(m.observers, entry)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, e := range m.observers {
				if e == entry {
					m.observers = append(m.observers[:i], m.observers[i+1:]...)
					break
				}
			}
		})
	}
}

// ClearObservers drops every registered observer. Used by Destroy().
func (m *StateMachine) ClearObservers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = nil
}

// Transition moves the machine to the given state and notifies observers.
// The transition metadata (retry count, next delay, error) is filled in by
// the caller; From is always the state the machine was in.
//
// Observers run outside the state lock so they can query the machine, but
// synchronously on the calling goroutine so that by the time Transition
// returns every observer has seen the change.
func (m *StateMachine) Transition(to ConnectionState, retryCount int, nextDelay time.Duration, err error) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.changedAt = time.Now()
	if err != nil {
		m.lastErr = err
	} else if to == StateConnected {
		m.lastErr = nil
	}
	observers := make([]*observerEntry, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	t := Transition{
		From:           from,
		To:             to,
		RetryCount:     retryCount,
		NextRetryDelay: nextDelay,
		Err:            err,
	}
	for _, e := range observers {
		e.fn(t)
	}
}
