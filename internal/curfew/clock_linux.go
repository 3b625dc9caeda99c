package curfew

import (
	"time"

	"golang.org/x/sys/unix"
)

// CLOCK_BOOTTIME keeps counting through suspend and cannot be set.
func sinceBoot() (time.Duration, bool) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return 0, false
	}
	return time.Duration(ts.Nano()), true
}
