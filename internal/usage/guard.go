package usage

import (
	"time"
)

// Verdict is the guard's judgement of one tick.
type Verdict struct {
	// Credit is the time the tick may add to a day. Zero when tampered.
	Credit   time.Duration
	Tampered bool
	Reason   string
	// WallDelta is the wall-clock time since the previous tick.
	WallDelta time.Duration
	// Trusted is the tick's wall time with every detected clock change
	// taken back out. Calendar dates come from it, never from the raw
	// wall clock.
	Trusted time.Time
}

// Guard checks each tick's wall-clock delta against the monotonic clock,
// which cannot be set. A negative delta, a delta larger than Factor times
// the expected gap, or wall and monotonic deltas that disagree by more than
// Tolerance mark the tick as tampered. The expected gap is the monotonic
// time since the previous tick, never less than Interval; a backoff delay
// is real elapsed time, not a clock change.
//
// Each tampered tick adds its unexplained wall movement to Offset. Trusted
// time is wall time minus Offset, so moving the clock a day ahead does not
// move the calendar date, and moving it back again cancels the offset.
type Guard struct {
	Interval  time.Duration
	Factor    float64
	Tolerance time.Duration
	// Offset carries over between processes through the usage state.
	Offset time.Duration

	primed   bool
	lastWall time.Time
	lastMono time.Duration
}

// Check judges a tick taken at wall time wall and monotonic reading mono.
// persistedWall is the wall time of the last tick recorded before this
// process started, if any; it only matters for the first tick.
func (g *Guard) Check(wall time.Time, mono time.Duration, persistedWall *time.Time) Verdict {
	v, skew := g.judge(wall, mono, persistedWall)
	if v.Tampered {
		g.Offset += skew
	}
	v.Trusted = wall.Add(-g.Offset)

	g.primed = true
	g.lastWall = wall
	g.lastMono = mono
	return v
}

// judge returns the verdict and, for a tampered tick, the wall movement
// the monotonic clock does not account for.
func (g *Guard) judge(wall time.Time, mono time.Duration, persistedWall *time.Time) (Verdict, time.Duration) {
	if !g.primed {
		// No monotonic reference yet; the loop slept one interval before
		// its first tick, so that interval is credited.
		if persistedWall != nil {
			delta := wall.Sub(*persistedWall)
			if delta < 0 {
				return Verdict{Tampered: true, Reason: "wall clock behind last recorded tick", WallDelta: delta}, delta
			}
			return Verdict{Credit: g.Interval, WallDelta: delta}, 0
		}
		return Verdict{Credit: g.Interval}, 0
	}

	wallDelta := wall.Sub(g.lastWall)
	monoDelta := mono - g.lastMono
	expected := max(monoDelta, g.Interval)
	skew := wallDelta - monoDelta
	switch {
	case wallDelta < 0:
		return Verdict{Tampered: true, Reason: "wall clock moved backwards", WallDelta: wallDelta}, skew
	case float64(wallDelta) > g.Factor*float64(expected):
		return Verdict{Tampered: true, Reason: "wall clock jumped forward", WallDelta: wallDelta}, skew
	case absDuration(skew) > g.Tolerance:
		return Verdict{Tampered: true, Reason: "wall clock drifted from monotonic clock", WallDelta: wallDelta}, skew
	}
	return Verdict{Credit: g.Interval, WallDelta: wallDelta}, 0
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
