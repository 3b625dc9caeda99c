package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"curfew/internal/curfew"
)

// Task is a long-running function the supervisor keeps alive.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// LoopTask adapts a Loop.
func LoopTask(l *Loop) Task {
	return Task{Name: l.Name(), Run: l.Run}
}

var errExited = errors.New("task returned before shutdown")

// Supervisor restarts tasks that panic or return while the daemon is still
// running. Restarts back off from RestartDelay to MaxRestartDelay; a task
// that then stays up for MaxRestartDelay starts over at RestartDelay.
type Supervisor struct {
	clock           curfew.Clock
	logger          curfew.Logger
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration
	// OnRestart is called before each restart, e.g. to count it.
	OnRestart func(task string, err error)
}

func NewSupervisor(clock curfew.Clock, logger curfew.Logger) *Supervisor {
	return &Supervisor{
		clock:           clock,
		logger:          logger,
		RestartDelay:    time.Second,
		MaxRestartDelay: time.Minute,
	}
}

// Run supervises every task until ctx is done and all of them returned.
func (s *Supervisor) Run(ctx context.Context, tasks ...Task) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error { return s.supervise(ctx, task) })
	}
	return g.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, task Task) error {
	delay := s.RestartDelay
	for {
		started := s.clock.Monotonic()
		err := runProtected(ctx, task)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errExited
		}
		if s.clock.Monotonic()-started >= s.MaxRestartDelay {
			delay = s.RestartDelay
		}

		s.logger.Error("loop stopped unexpectedly, restarting", "loop", task.Name, "error", err, "delay", delay)
		if s.OnRestart != nil {
			s.OnRestart(task.Name, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(delay):
		}
		delay = min(delay*2, s.MaxRestartDelay)
	}
}

func runProtected(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task.Run(ctx)
}
