package backend

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"toolgate/pkg/logging"
)

// ReconnectPolicy controls the exponential backoff schedule for a backend.
type ReconnectPolicy struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor, applied per attempt.
	Multiplier float64
	// MaxAttempts limits automatic retries. Zero means no automatic
	// retries at all.
	MaxAttempts int
	// Jitter is the random fraction applied to each delay, e.g. 0.1
	// spreads delays over [0.9d, 1.1d]. Zero disables jitter.
	Jitter float64
}

// DefaultReconnectPolicy returns the policy used when a backend does not
// configure its own.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       0.1,
	}
}

// ReconnectionManager schedules reconnection attempts for one backend
// according to a ReconnectPolicy. It owns only the timing; the actual
// connection attempt is the callback passed to ScheduleReconnect.
//
// The manager is safe for concurrent use. At most one reconnect timer is
// armed at a time; scheduling while a timer is armed replaces it.
type ReconnectionManager struct {
	name   string
	policy ReconnectPolicy
	clock  Clock

	mu         sync.Mutex
	retryCount int
	timer      Timer
	generation int

	// onExhausted fires on the timer goroutine when a retry chain runs
	// out of attempts after at least one fired attempt.
	onExhausted func(error)
	// onRetryScheduled fires on the timer goroutine whenever a failed
	// attempt re-arms the next one, with the updated count and delay.
	onRetryScheduled func(retryCount int, delay time.Duration, err error)
}

// NewReconnectionManager creates a manager for the named backend. A nil
// clock falls back to the real wall clock.
func NewReconnectionManager(name string, policy ReconnectPolicy, clock Clock) *ReconnectionManager {
	if clock == nil {
		clock = RealClock()
	}
	return &ReconnectionManager{
		name:   name,
		policy: policy,
		clock:  clock,
	}
}

// SetExhaustedHandler registers the callback invoked when a retry chain
// exhausts its attempts asynchronously. Must be called before the first
// ScheduleReconnect.
func (m *ReconnectionManager) SetExhaustedHandler(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExhausted = fn
}

// SetRetryHandler registers the callback invoked each time a failed
// attempt schedules the next one, so owners can broadcast backoff
// progress. Must be called before the first ScheduleReconnect.
func (m *ReconnectionManager) SetRetryHandler(fn func(retryCount int, delay time.Duration, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRetryScheduled = fn
}

// RetryCount returns the number of consecutive failed attempts.
func (m *ReconnectionManager) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// NextDelay returns the backoff delay the next scheduled attempt would
// use, without jitter.
func (m *ReconnectionManager) NextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delayFor(m.retryCount, false)
}

// delayFor computes the backoff delay for the given attempt index.
// Callers must hold m.mu.
func (m *ReconnectionManager) delayFor(attempt int, jitter bool) time.Duration {
	d := float64(m.policy.InitialDelay) * math.Pow(m.policy.Multiplier, float64(attempt))
	if max := float64(m.policy.MaxDelay); m.policy.MaxDelay > 0 && d > max {
		d = max
	}
	if jitter && m.policy.Jitter > 0 {
		// rand.Float64 in [0,1) maps to [-j, +j).
		d += d * m.policy.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// ScheduleReconnect arms a timer for the next reconnection attempt and
// returns the armed delay. When the timer fires, attempt is invoked; on
// success the retry count resets, on failure the next attempt is scheduled
// automatically until the budget runs out.
//
// Returns ErrReconnectExhausted without arming a timer when the retry
// budget is already spent.
func (m *ReconnectionManager) ScheduleReconnect(attempt func() error) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.retryCount >= m.policy.MaxAttempts {
		return 0, ErrReconnectExhausted
	}

	delay := m.delayFor(m.retryCount, true)
	m.armLocked(delay, attempt)

	logging.Debug("Reconnect", "Backend %s: retry %d/%d scheduled in %s",
		m.name, m.retryCount+1, m.policy.MaxAttempts, delay)
	return delay, nil
}

// armLocked replaces any armed timer with a new one for the given delay.
// Callers must hold m.mu.
func (m *ReconnectionManager) armLocked(delay time.Duration, attempt func() error) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.generation++
	gen := m.generation
	timer := m.clock.NewTimer(delay)
	m.timer = timer

	go func() {
		<-timer.C()

		m.mu.Lock()
		if gen != m.generation {
			// Cancelled or replaced while waiting.
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.mu.Unlock()

		err := attempt()

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		if err == nil {
			m.retryCount = 0
			m.mu.Unlock()
			return
		}

		m.retryCount++
		if m.retryCount >= m.policy.MaxAttempts {
			onExhausted := m.onExhausted
			m.mu.Unlock()
			logging.Warn("Reconnect", "Backend %s: retries exhausted after %d attempts", m.name, m.policy.MaxAttempts)
			if onExhausted != nil {
				onExhausted(err)
			}
			return
		}

		next := m.delayFor(m.retryCount, true)
		retries := m.retryCount
		onRetry := m.onRetryScheduled
		m.mu.Unlock()

		logging.Debug("Reconnect", "Backend %s: attempt failed, retry %d/%d in %s",
			m.name, retries+1, m.policy.MaxAttempts, next)

		// Notify before arming so observers always see the Reconnecting
		// broadcast before the next attempt can fire.
		if onRetry != nil {
			onRetry(retries, next, err)
		}

		m.mu.Lock()
		if gen != m.generation {
			// Cancelled or reset during the notification.
			m.mu.Unlock()
			return
		}
		m.armLocked(next, attempt)
		m.mu.Unlock()
	}()
}

// CancelReconnect stops any armed timer and invalidates in-flight attempt
// callbacks. The retry count is preserved.
func (m *ReconnectionManager) CancelReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Reset cancels any pending attempt and zeroes the retry count. Called on
// successful connect and on manual reconnect.
func (m *ReconnectionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.retryCount = 0
}
