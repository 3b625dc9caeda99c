package curfew

import (
	"testing"
	"time"
)

func TestRealClock_Monotonic(t *testing.T) {
	var c RealClock
	first := c.Monotonic()
	time.Sleep(10 * time.Millisecond)
	second := c.Monotonic()
	if first < 0 {
		t.Errorf("Monotonic() = %v, want >= 0", first)
	}
	if d := second - first; d < 10*time.Millisecond {
		t.Errorf("Monotonic() advanced %v over a 10ms sleep, want >= 10ms", d)
	}
}
