package backend

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       0,
	}
}

func TestScheduleReconnectDelayDoubles(t *testing.T) {
	clock := newFakeClock()
	m := NewReconnectionManager("test", testPolicy(), clock)

	attempts := make(chan struct{}, 10)
	attempt := func() error {
		attempts <- struct{}{}
		return errors.New("still down")
	}

	delay, err := m.ScheduleReconnect(attempt)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, delay)

	// First attempt fires and fails; 200ms retry arms automatically.
	clock.Advance(100 * time.Millisecond)
	<-attempts
	require.Eventually(t, func() bool { return clock.armed() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, m.RetryCount())
	assert.Equal(t, 200*time.Millisecond, m.NextDelay())

	// Second fails; 400ms retry arms.
	clock.Advance(200 * time.Millisecond)
	<-attempts
	require.Eventually(t, func() bool { return clock.armed() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, m.RetryCount())
	assert.Equal(t, 400*time.Millisecond, m.NextDelay())
}

func TestScheduleReconnectExhaustion(t *testing.T) {
	clock := newFakeClock()
	m := NewReconnectionManager("test", testPolicy(), clock)

	var exhaustedErr error
	done := make(chan struct{})
	m.SetExhaustedHandler(func(err error) {
		exhaustedErr = err
		close(done)
	})

	attempts := make(chan struct{}, 10)
	cause := errors.New("connection refused")
	attempt := func() error {
		attempts <- struct{}{}
		return cause
	}

	_, err := m.ScheduleReconnect(attempt)
	require.NoError(t, err)

	// Three attempts at 100, 200, 400ms, all failing.
	clock.Advance(100 * time.Millisecond)
	<-attempts
	require.Eventually(t, func() bool { return clock.armed() == 1 }, time.Second, time.Millisecond)
	clock.Advance(200 * time.Millisecond)
	<-attempts
	require.Eventually(t, func() bool { return clock.armed() == 1 }, time.Second, time.Millisecond)
	clock.Advance(400 * time.Millisecond)
	<-attempts

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("exhausted handler never fired")
	}

	assert.Equal(t, cause, exhaustedErr)
	assert.Equal(t, 3, m.RetryCount())
	assert.Zero(t, clock.armed())

	// Once exhausted, scheduling fails synchronously.
	_, err = m.ScheduleReconnect(attempt)
	assert.ErrorIs(t, err, ErrReconnectExhausted)
}

func TestScheduleReconnectSuccessResetsCount(t *testing.T) {
	clock := newFakeClock()
	m := NewReconnectionManager("test", testPolicy(), clock)

	var mu sync.Mutex
	calls := 0
	fired := make(chan struct{}, 10)
	attempt := func() error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		fired <- struct{}{}
		if n < 2 {
			return errors.New("not yet")
		}
		return nil
	}

	_, err := m.ScheduleReconnect(attempt)
	require.NoError(t, err)

	clock.Advance(100 * time.Millisecond)
	<-fired
	require.Eventually(t, func() bool { return clock.armed() == 1 }, time.Second, time.Millisecond)

	clock.Advance(200 * time.Millisecond)
	<-fired

	require.Eventually(t, func() bool { return m.RetryCount() == 0 }, time.Second, time.Millisecond)
	assert.Zero(t, clock.armed())
	assert.Equal(t, 100*time.Millisecond, m.NextDelay())
}

func TestCancelReconnectStopsPendingAttempt(t *testing.T) {
	clock := newFakeClock()
	m := NewReconnectionManager("test", testPolicy(), clock)

	attempted := false
	_, err := m.ScheduleReconnect(func() error {
		attempted = true
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, clock.armed())

	m.CancelReconnect()
	clock.Advance(time.Second)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, attempted)
}

func TestResetZeroesRetryCount(t *testing.T) {
	clock := newFakeClock()
	m := NewReconnectionManager("test", testPolicy(), clock)

	attempts := make(chan struct{}, 10)
	_, err := m.ScheduleReconnect(func() error {
		attempts <- struct{}{}
		return errors.New("down")
	})
	require.NoError(t, err)

	clock.Advance(100 * time.Millisecond)
	<-attempts
	require.Eventually(t, func() bool { return m.RetryCount() == 1 }, time.Second, time.Millisecond)

	m.Reset()
	assert.Zero(t, m.RetryCount())
	assert.Zero(t, clock.armed())
}

func TestDelayRespectsMaxDelay(t *testing.T) {
	policy := ReconnectPolicy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   10.0,
		MaxAttempts:  5,
		Jitter:       0,
	}
	m := NewReconnectionManager("test", policy, newFakeClock())

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1*time.Second, m.delayFor(0, false))
	assert.Equal(t, 5*time.Second, m.delayFor(1, false))
	assert.Equal(t, 5*time.Second, m.delayFor(4, false))
}

func TestDelayJitterStaysInBounds(t *testing.T) {
	policy := ReconnectPolicy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       0.1,
	}
	m := NewReconnectionManager("test", policy, newFakeClock())

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < 100; i++ {
		d := m.delayFor(0, true)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestZeroMaxAttemptsNeverSchedules(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 0
	m := NewReconnectionManager("test", policy, newFakeClock())

	_, err := m.ScheduleReconnect(func() error { return nil })
	assert.ErrorIs(t, err, ErrReconnectExhausted)
}
