package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StubClock is a deterministic curfew.Clock. Wall time and monotonic time
// both stand still until Advance; SetWall moves only the wall clock, the
// way a user changing the system time would. After waiters fire when the
// monotonic reading passes their deadline. Safe for concurrent use.
type StubClock struct {
	mu      sync.Mutex
	now     time.Time
	mono    time.Duration
	waiters []*stubWaiter
	changed *sync.Cond
}

type stubWaiter struct {
	deadline time.Duration
	ch       chan time.Time
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	c := &StubClock{now: t}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// FixedClock returns a StubClock set to 2026-03-09 (a Monday) 15:00:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *StubClock) Monotonic() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mono
}

// After returns a channel that receives once the clock has advanced by d.
func (c *StubClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, &stubWaiter{deadline: c.mono + d, ch: ch})
	c.changed.Broadcast()
	return ch
}

// Advance moves wall and monotonic time forward by d and fires due waiters.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mono += d
	now, mono := c.now, c.mono

	var remaining []*stubWaiter
	var due []*stubWaiter
	for _, w := range c.waiters {
		if w.deadline <= mono {
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()

	for _, w := range due {
		w.ch <- now
	}
}

// SetWall jumps the wall clock without touching monotonic time.
func (c *StubClock) SetWall(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// WaitForTimers blocks until at least n After waiters are pending, so a
// test can advance the clock only after the code under test is waiting.
func (c *StubClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.changed.Wait()
	}
}

// PendingTimers returns the number of unfired After waiters.
func (c *StubClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// StubIDGenerator returns sequential IDs: "id-1", "id-2", etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("id-%d", g.counter)
}
