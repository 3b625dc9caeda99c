// Package worker runs blocking OS calls (registry and plist writes, session
// probes, lock commands) on a bounded set of goroutines so neither scheduler
// loop ever blocks its own timer on them.
package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"curfew/internal/curfew"
)

// Pool bounds concurrent blocking calls.
type Pool struct {
	sem      *semaphore.Weighted
	inflight sync.WaitGroup
}

var _ curfew.Offloader = (*Pool)(nil)

// NewPool creates a pool allowing size concurrent calls. size < 1 is treated as 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn on a pool goroutine and waits for its result. Waiting for a
// slot respects ctx; once fn has started, Do waits for it to return even if
// ctx is cancelled meanwhile. A panic in fn is returned as an error.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("waiting for worker: %w", err)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for worker: %w", err)
	}

	p.inflight.Add(1)
	done := make(chan error, 1)
	go func() {
		defer p.inflight.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("worker panic: %v", r)
			}
		}()
		done <- fn()
	}()

	return <-done
}

// Drain blocks until every started call has returned.
func (p *Pool) Drain() {
	p.inflight.Wait()
}
