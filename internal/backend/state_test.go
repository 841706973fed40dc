package backend

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateString(t *testing.T) {
	tests := []struct {
		state    ConnectionState
		expected string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateFailed, "failed"},
		{ConnectionState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestStateMachineInitialState(t *testing.T) {
	m := NewStateMachine()
	assert.Equal(t, StateDisconnected, m.State())
}

func TestStateMachineTransitionNotifiesObservers(t *testing.T) {
	m := NewStateMachine()

	var got []Transition
	m.Subscribe(func(tr Transition) {
		got = append(got, tr)
	})

	cause := errors.New("broken pipe")
	m.Transition(StateConnecting, 0, 0, nil)
	m.Transition(StateConnected, 0, 0, nil)
	m.Transition(StateReconnecting, 1, 200*time.Millisecond, cause)

	require.Len(t, got, 3)
	assert.Equal(t, StateDisconnected, got[0].From)
	assert.Equal(t, StateConnecting, got[0].To)
	assert.Equal(t, StateConnected, got[1].To)
	assert.Equal(t, StateReconnecting, got[2].To)
	assert.Equal(t, 1, got[2].RetryCount)
	assert.Equal(t, 200*time.Millisecond, got[2].NextRetryDelay)
	assert.Equal(t, cause, got[2].Err)
}

func TestStateMachineLastError(t *testing.T) {
	m := NewStateMachine()
	assert.NoError(t, m.LastError())

	cause := errors.New("broken pipe")
	m.Transition(StateReconnecting, 1, 100*time.Millisecond, cause)
	assert.Equal(t, cause, m.LastError())

	// Intermediate states without an error keep the last one around.
	m.Transition(StateConnecting, 0, 0, nil)
	assert.Equal(t, cause, m.LastError())

	// A successful connect clears it.
	m.Transition(StateConnected, 0, 0, nil)
	assert.NoError(t, m.LastError())
}

func TestStateMachineObserverOrder(t *testing.T) {
	m := NewStateMachine()

	var order []string
	m.Subscribe(func(Transition) { order = append(order, "first") })
	m.Subscribe(func(Transition) { order = append(order, "second") })
	m.Subscribe(func(Transition) { order = append(order, "third") })

	m.Transition(StateConnecting, 0, 0, nil)

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestStateMachineUnsubscribe(t *testing.T) {
	m := NewStateMachine()

	var aCount, bCount int
	unsubA := m.Subscribe(func(Transition) { aCount++ })
	m.Subscribe(func(Transition) { bCount++ })

	m.Transition(StateConnecting, 0, 0, nil)
	unsubA()
	m.Transition(StateConnected, 0, 0, nil)

	assert.Equal(t, 1, aCount)
	assert.Equal(t, 2, bCount)
}

func TestStateMachineUnsubscribeIdempotent(t *testing.T) {
	m := NewStateMachine()

	var count int
	unsub := m.Subscribe(func(Transition) { count++ })
	m.Subscribe(func(Transition) { count += 10 })

	unsub()
	unsub()
	unsub()

	m.Transition(StateConnecting, 0, 0, nil)

	// Only the second observer fires; repeated unsubscribes must not
	// remove it.
	assert.Equal(t, 10, count)
}

func TestStateMachineObserverSeesTransitionSynchronously(t *testing.T) {
	m := NewStateMachine()

	var observed ConnectionState
	m.Subscribe(func(tr Transition) {
		// The machine must already report the new state when the
		// observer runs.
		observed = m.State()
	})

	m.Transition(StateConnected, 0, 0, nil)
	assert.Equal(t, StateConnected, observed)
}

func TestStateMachineClearObservers(t *testing.T) {
	m := NewStateMachine()

	var count int
	m.Subscribe(func(Transition) { count++ })
	m.ClearObservers()
	m.Transition(StateConnecting, 0, 0, nil)

	assert.Zero(t, count)
}
