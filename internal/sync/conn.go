package sync

import (
	"math"
	"sync"
	"time"
)

// ConnState is the streaming connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFailed // retry budget exhausted, manual restart required
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnPolicy configures reconnect behavior.
type ConnPolicy struct {
	BaseDelay      time.Duration // first retry delay
	Multiplier     float64       // exponential growth factor
	MaxAttempts    int           // attempts before the terminal failed state
	ConnLimitDelay time.Duration // fixed delay after a connection-limit rejection
}

// DefaultConnPolicy retries five times, 2s base doubling each attempt, and
// waits a full minute after a connection-limit rejection.
func DefaultConnPolicy() ConnPolicy {
	return ConnPolicy{
		BaseDelay:      2 * time.Second,
		Multiplier:     2.0,
		MaxAttempts:    5,
		ConnLimitDelay: time.Minute,
	}
}

// connTracker drives the disconnected → connecting → connected machine.
type connTracker struct {
	mu      sync.Mutex
	state   ConnState
	attempt int
	policy  ConnPolicy

	OnStateChange func(from, to ConnState)
}

func newConnTracker(p ConnPolicy) *connTracker {
	return &connTracker{state: StateDisconnected, policy: p}
}

func (c *connTracker) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BeginConnect moves to connecting and returns the delay to wait before the
// dial. The first attempt gets no delay; attempt n waits
// base × multiplier^(n−2). Returns ok=false once the attempt cap is
// exceeded, after transitioning to the terminal failed state.
func (c *connTracker) BeginConnect() (delay time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateFailed {
		return 0, false
	}

	c.attempt++
	if c.attempt > c.policy.MaxAttempts {
		c.transition(StateFailed)
		return 0, false
	}

	c.transition(StateConnecting)
	if c.attempt == 1 {
		return 0, true
	}
	d := float64(c.policy.BaseDelay) * math.Pow(c.policy.Multiplier, float64(c.attempt-2))
	return time.Duration(d), true
}

// Connected marks a successful dial and resets the attempt counter.
func (c *connTracker) Connected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = 0
	c.transition(StateConnected)
}

// ConnLimited hands back the attempt consumed by a connection-limit
// rejection: the provider refused the slot, the endpoint itself is healthy,
// so waiting out the limit must not march toward the failed state.
func (c *connTracker) ConnLimited() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt > 0 {
		c.attempt--
	}
}

// Disconnected records a transport drop.
func (c *connTracker) Disconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFailed {
		c.transition(StateDisconnected)
	}
}

// Reset clears a failed state so a manual restart can try again.
func (c *connTracker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = 0
	c.transition(StateDisconnected)
}

func (c *connTracker) transition(to ConnState) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if c.OnStateChange != nil {
		c.OnStateChange(from, to)
	}
}
