package curfew

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
//
// Now returns wall-clock time, which an administrator (or a child with
// admin rights) can move. Monotonic returns elapsed time on a clock that
// cannot be set; comparing the two is how tamper detection notices a
// wall-clock jump.
type Clock interface {
	Now() time.Time
	Monotonic() time.Duration
	After(d time.Duration) <-chan time.Time
}

var (
	processStart = time.Now()
	bootStart, bootOK = sinceBoot()
)

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Monotonic reports time since process start. It counts time spent
// suspended where the platform offers such a clock, so a lid closed
// overnight reads the same on both clocks. Otherwise it falls back to the
// runtime's monotonic reading, which stops while suspended.
func (RealClock) Monotonic() time.Duration {
	if bootOK {
		if now, ok := sinceBoot(); ok {
			return now - bootStart
		}
	}
	return time.Since(processStart)
}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
