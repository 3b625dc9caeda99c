// Package scheduler paces the daemon's loops. Each loop is an explicit
// state machine (NextTick, Working, Sleeping) with its own failure streak,
// so a stalled policy fetch never delays a usage tick and vice versa.
package scheduler

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"curfew/internal/curfew"
)

// Phase is where a loop is in its cycle.
type Phase string

const (
	PhaseNextTick Phase = "next-tick"
	PhaseWorking  Phase = "working"
	PhaseSleeping Phase = "sleeping"
	PhaseStopped  Phase = "stopped"
)

// Work is one tick of a loop. The context it receives is never cancelled
// by shutdown, so a tick that has started always finishes.
type Work func(ctx context.Context) error

// Observer is told about every completed tick.
type Observer interface {
	TickDone(loop string, err error, elapsed time.Duration, streak int)
}

// LoopConfig describes a loop's pacing.
type LoopConfig struct {
	Name     string
	Interval time.Duration
	// Jitter spreads each period uniformly over Interval ± Jitter.
	Jitter      time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Immediate runs the first tick without waiting a period.
	Immediate bool
	// Aligned keeps ticks on a fixed grid: work that overruns skips the
	// ticks it missed instead of running them back to back.
	Aligned bool
}

// LoopStatus is a snapshot of a loop.
type LoopStatus struct {
	Name      string
	Phase     Phase
	Streak    int
	Delay     time.Duration // current sleep
	Skipped   int           // ticks skipped because work overran
	LastErr   error
	LastTick  time.Time
	Heartbeat time.Duration // monotonic time of the last phase change
}

// Loop runs Work on its schedule until its context is cancelled.
type Loop struct {
	cfg      LoopConfig
	work     Work
	clock    curfew.Clock
	logger   curfew.Logger
	rand     *rand.Rand
	observer Observer
	wake     chan struct{}

	mu     sync.Mutex
	status LoopStatus
}

// NewLoop creates a loop. rng may be nil.
func NewLoop(cfg LoopConfig, work Work, clock curfew.Clock, logger curfew.Logger, rng *rand.Rand) *Loop {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(clock.Now().UnixNano()), uint64(clock.Monotonic())))
	}
	return &Loop{
		cfg:    cfg,
		work:   work,
		clock:  clock,
		logger: logger,
		rand:   rng,
		wake:   make(chan struct{}, 1),
		status: LoopStatus{Name: cfg.Name, Phase: PhaseNextTick},
	}
}

// SetObserver registers o; call before Run.
func (l *Loop) SetObserver(o Observer) { l.observer = o }

// Name returns the loop's name.
func (l *Loop) Name() string { return l.cfg.Name }

// Trigger cuts the current sleep short. Triggers while working coalesce
// into one extra tick.
func (l *Loop) Trigger() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Status returns a snapshot.
func (l *Loop) Status() LoopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Loop) setPhase(p Phase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Phase = p
	l.status.Heartbeat = l.clock.Monotonic()
}

// Run drives the loop. It returns nil once ctx is done and any tick in
// progress has finished.
func (l *Loop) Run(ctx context.Context) error {
	defer l.setPhase(PhaseStopped)

	var delay time.Duration
	if !l.cfg.Immediate {
		delay = l.period()
	}
	for {
		l.mu.Lock()
		l.status.Delay = delay
		l.mu.Unlock()
		l.setPhase(PhaseSleeping)

		select {
		case <-ctx.Done():
			return nil
		case <-l.clock.After(delay):
		case <-l.wake:
		}

		l.setPhase(PhaseWorking)
		start := l.clock.Monotonic()
		err := l.work(context.WithoutCancel(ctx))
		elapsed := l.clock.Monotonic() - start
		delay = l.next(err, elapsed)

		l.setPhase(PhaseNextTick)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// next records the tick's outcome and returns the sleep before the next one.
func (l *Loop) next(err error, elapsed time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.status.LastErr = err
	l.status.LastTick = l.clock.Now()

	var delay time.Duration
	switch {
	case err == nil:
		l.status.Streak = 0
		delay = l.period()
	case curfew.IsPermanent(err):
		// No early retry.
		l.status.Streak = 0
		delay = l.period()
		l.logger.Error("tick failed permanently", "loop", l.cfg.Name, "error", err, "delay", delay)
	default:
		l.status.Streak++
		delay = Backoff(l.cfg.BackoffBase, l.cfg.BackoffCap, l.status.Streak)
		l.logger.Warn("tick failed, backing off", "loop", l.cfg.Name, "error", err,
			"streak", l.status.Streak, "delay", delay)
	}

	if err == nil || curfew.IsPermanent(err) {
		if l.cfg.Aligned && elapsed >= delay && delay > 0 {
			missed := int(elapsed / delay)
			l.status.Skipped += missed
			l.logger.Warn("tick overran, skipping missed ticks", "loop", l.cfg.Name,
				"elapsed", elapsed, "skipped", missed)
			delay -= elapsed % delay
		} else if l.cfg.Aligned {
			delay -= elapsed
		}
	}

	if l.observer != nil {
		l.observer.TickDone(l.cfg.Name, err, elapsed, l.status.Streak)
	}
	return delay
}

// period is Interval plus uniform jitter in [-Jitter, +Jitter].
func (l *Loop) period() time.Duration {
	d := l.cfg.Interval
	if l.cfg.Jitter > 0 {
		d += time.Duration(l.rand.Int64N(int64(2*l.cfg.Jitter)+1)) - l.cfg.Jitter
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Backoff returns min(base × 2^streak, cap).
func Backoff(base, ceiling time.Duration, streak int) time.Duration {
	if streak < 0 {
		streak = 0
	}
	if streak > 32 {
		return ceiling
	}
	d := base << streak
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}
