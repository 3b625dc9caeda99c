//go:build !linux && !darwin && !windows

package curfew

import "time"

func sinceBoot() (time.Duration, bool) { return 0, false }
