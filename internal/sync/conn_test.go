package sync

import (
	"testing"
	"time"
)

func testPolicy() ConnPolicy {
	return ConnPolicy{
		BaseDelay:      2 * time.Second,
		Multiplier:     2.0,
		MaxAttempts:    3,
		ConnLimitDelay: time.Minute,
	}
}

func TestConnTracker_BackoffProgression(t *testing.T) {
	c := newConnTracker(testPolicy())

	// First attempt dials immediately
	delay, ok := c.BeginConnect()
	if !ok || delay != 0 {
		t.Fatalf("attempt 1: (delay=%v, ok=%v), want (0, true)", delay, ok)
	}
	if c.State() != StateConnecting {
		t.Errorf("state: %v, want connecting", c.State())
	}
	c.Disconnected()

	// Retries back off as base × multiplier^(n−1)
	delay, ok = c.BeginConnect()
	if !ok || delay != 2*time.Second {
		t.Errorf("attempt 2: (delay=%v, ok=%v), want (2s, true)", delay, ok)
	}
	c.Disconnected()

	delay, ok = c.BeginConnect()
	if !ok || delay != 4*time.Second {
		t.Errorf("attempt 3: (delay=%v, ok=%v), want (4s, true)", delay, ok)
	}
	c.Disconnected()

	// Cap exceeded: terminal failed state
	_, ok = c.BeginConnect()
	if ok {
		t.Fatal("attempt 4 should exceed the cap")
	}
	if c.State() != StateFailed {
		t.Errorf("state: %v, want failed", c.State())
	}

	// Failed is terminal until Reset
	if _, ok := c.BeginConnect(); ok {
		t.Error("failed state must not permit further attempts")
	}
}

func TestConnTracker_SuccessResetsAttempts(t *testing.T) {
	c := newConnTracker(testPolicy())

	c.BeginConnect()
	c.Disconnected()
	c.BeginConnect()
	c.Connected()
	if c.State() != StateConnected {
		t.Fatalf("state: %v, want connected", c.State())
	}
	c.Disconnected()

	// Attempt counter restarted: immediate dial again
	delay, ok := c.BeginConnect()
	if !ok || delay != 0 {
		t.Errorf("after successful connect: (delay=%v, ok=%v), want (0, true)", delay, ok)
	}
}

func TestConnTracker_ResetClearsFailed(t *testing.T) {
	c := newConnTracker(ConnPolicy{BaseDelay: time.Second, Multiplier: 2, MaxAttempts: 1})

	c.BeginConnect()
	c.Disconnected()
	if _, ok := c.BeginConnect(); ok {
		t.Fatal("expected failed state")
	}

	c.Reset()
	if c.State() != StateDisconnected {
		t.Errorf("state after reset: %v", c.State())
	}
	if _, ok := c.BeginConnect(); !ok {
		t.Error("reset should allow connecting again")
	}
}

func TestConnTracker_ConnLimitedDoesNotEscalate(t *testing.T) {
	c := newConnTracker(testPolicy())

	// Repeated connection-limit rejections never march toward failed:
	// each attempt is handed back before the fixed hold.
	for i := 0; i < 10; i++ {
		delay, ok := c.BeginConnect()
		if !ok {
			t.Fatalf("rejection %d reached the failed state", i+1)
		}
		if delay != 0 {
			t.Fatalf("rejection %d: delay %v, want 0 (no backoff escalation)", i+1, delay)
		}
		c.Disconnected()
		c.ConnLimited()
	}

	// An ordinary failure afterwards still escalates normally.
	if delay, ok := c.BeginConnect(); !ok || delay != 0 {
		t.Fatalf("first real attempt: (delay=%v, ok=%v), want (0, true)", delay, ok)
	}
	c.Disconnected()
	if delay, ok := c.BeginConnect(); !ok || delay != 2*time.Second {
		t.Errorf("second real attempt: (delay=%v, ok=%v), want (2s, true)", delay, ok)
	}
}

func TestConnTracker_StateChangeCallback(t *testing.T) {
	c := newConnTracker(testPolicy())
	var seen []ConnState
	c.OnStateChange = func(from, to ConnState) { seen = append(seen, to) }

	c.BeginConnect()
	c.Connected()
	c.Disconnected()

	want := []ConnState{StateConnecting, StateConnected, StateDisconnected}
	if len(seen) != len(want) {
		t.Fatalf("transitions: %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: %v, want %v", i, seen[i], want[i])
		}
	}
}
