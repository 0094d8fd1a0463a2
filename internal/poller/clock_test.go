package poller

import (
	"sync"
	"testing"
	"time"
)

// fakeClock records armed timers and fires them on demand in the test
// goroutine.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	armed := !t.stopped && !t.fired
	t.stopped = true
	return armed
}

// armed returns the timers that are neither stopped nor fired.
func (c *fakeClock) armed() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the single armed timer and returns its delay.
func (c *fakeClock) fire(t *testing.T) time.Duration {
	t.Helper()
	armed := c.armed()
	if len(armed) != 1 {
		t.Fatalf("armed timers = %d, want 1", len(armed))
	}
	timer := armed[0]

	c.mu.Lock()
	timer.fired = true
	c.mu.Unlock()

	timer.f()
	return timer.d
}
