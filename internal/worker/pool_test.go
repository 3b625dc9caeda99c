package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_Do(t *testing.T) {
	t.Run("returns fn error", func(t *testing.T) {
		p := NewPool(1)
		want := errors.New("boom")
		if err := p.Do(context.Background(), func() error { return want }); !errors.Is(err, want) {
			t.Errorf("Do() error = %v, want %v", err, want)
		}
	})

	t.Run("recovers panics", func(t *testing.T) {
		p := NewPool(1)
		err := p.Do(context.Background(), func() error { panic("bad") })
		if err == nil {
			t.Fatal("Do() expected error from panicking fn")
		}
	})

	t.Run("bounds concurrency", func(t *testing.T) {
		p := NewPool(2)
		var running, peak atomic.Int32
		done := make(chan struct{})
		for i := 0; i < 6; i++ {
			go func() {
				p.Do(context.Background(), func() error {
					n := running.Add(1)
					for {
						old := peak.Load()
						if n <= old || peak.CompareAndSwap(old, n) {
							break
						}
					}
					time.Sleep(10 * time.Millisecond)
					running.Add(-1)
					return nil
				})
				done <- struct{}{}
			}()
		}
		for i := 0; i < 6; i++ {
			<-done
		}
		if got := peak.Load(); got > 2 {
			t.Errorf("peak concurrency = %d, want <= 2", got)
		}
	})

	t.Run("finishes started work after cancel", func(t *testing.T) {
		p := NewPool(1)
		ctx, cancel := context.WithCancel(context.Background())
		var finished atomic.Bool
		err := p.Do(ctx, func() error {
			cancel()
			time.Sleep(5 * time.Millisecond)
			finished.Store(true)
			return nil
		})
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if !finished.Load() {
			t.Error("fn did not run to completion")
		}
	})

	t.Run("cancelled before slot", func(t *testing.T) {
		p := NewPool(1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := p.Do(ctx, func() error { called = true; return nil })
		if err == nil {
			t.Error("Do() expected error for cancelled context")
		}
		if called {
			t.Error("fn should not run when context is already cancelled")
		}
	})
}
