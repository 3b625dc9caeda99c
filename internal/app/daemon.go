package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"curfew/internal/curfew"
	"curfew/internal/enforce"
	"curfew/internal/fetch"
	"curfew/internal/model"
	"curfew/internal/policy"
	"curfew/internal/scheduler"
	"curfew/internal/usage"
	"curfew/internal/worker"
)

const (
	driftDebounce   = 2 * time.Second
	metricsInterval = 30 * time.Second
)

// daemon holds the long-running components of one RunDaemon call.
type daemon struct {
	app     *App
	pool    *worker.Pool
	engine  *policy.Engine
	fetcher curfew.Fetcher
	tracker *usage.Tracker

	policyLoop *scheduler.Loop
	usageLoop  *scheduler.Loop
	drift      *policy.DriftWatcher
}

// RunDaemon runs the policy and usage loops until ctx is done. Ticks in
// progress finish before it returns, and so do blocking OS calls.
func (a *App) RunDaemon(ctx context.Context) error {
	d, err := a.newDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.pool.Drain()

	var tasks []scheduler.Task
	if d.policyLoop != nil {
		tasks = append(tasks, scheduler.LoopTask(d.policyLoop))
	}
	if d.drift != nil {
		tasks = append(tasks, scheduler.Task{Name: "drift", Run: d.drift.Run})
	}
	if d.usageLoop != nil {
		tasks = append(tasks, scheduler.LoopTask(d.usageLoop))
	}
	if path := a.cfg.Daemon.MetricsTextfile; path != "" {
		l := scheduler.NewLoop(scheduler.LoopConfig{
			Name:        "metrics",
			Interval:    metricsInterval,
			BackoffBase: metricsInterval,
			BackoffCap:  metricsInterval,
			Immediate:   true,
		}, func(context.Context) error { return a.metrics.WriteTextfile(path) }, a.clock, a.logger, nil)
		tasks = append(tasks, scheduler.LoopTask(l))
	}
	if len(tasks) == 0 {
		return fmt.Errorf("nothing to run: no policy source, writers or identities configured")
	}

	sup := scheduler.NewSupervisor(a.clock, a.logger)
	sup.OnRestart = a.metrics.TaskRestarted

	a.logger.Info("daemon starting", "elevation", a.elevation.String(), "tasks", len(tasks))
	err = sup.Run(ctx, tasks...)
	a.logger.Info("daemon stopped")
	return err
}

func (a *App) newDaemon(ctx context.Context) (*daemon, error) {
	if err := a.elevation.Require("run daemon"); err != nil {
		return nil, err
	}
	d := &daemon{app: a, pool: worker.NewPool(a.cfg.Daemon.Workers)}

	if !a.cfg.Daemon.UsageOnly {
		if err := d.setupPolicy(ctx); err != nil {
			d.pool.Drain()
			return nil, err
		}
	}
	if !a.cfg.Daemon.PolicyOnly {
		if err := d.setupUsage(); err != nil {
			d.pool.Drain()
			return nil, err
		}
	}
	return d, nil
}

func (d *daemon) setupPolicy(ctx context.Context) error {
	a := d.app
	engine, err := a.newEngine(d.pool)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	d.engine = engine

	d.fetcher = a.fetcher
	if d.fetcher == nil {
		if d.fetcher, err = fetch.NewFetcherFromConfig(ctx, a.cfg.Policy, a.clock); err != nil {
			return fmt.Errorf("creating fetcher: %w", err)
		}
	}
	if d.fetcher == nil {
		a.logger.Info("no policy source configured, policy loop disabled")
		return nil
	}

	pc := a.cfg.Policy
	d.policyLoop = scheduler.NewLoop(scheduler.LoopConfig{
		Name:        "policy",
		Interval:    pc.PollInterval,
		Jitter:      pc.PollJitter,
		BackoffBase: pc.BackoffBase,
		BackoffCap:  pc.BackoffCap,
		Immediate:   true,
	}, d.poll, a.clock, a.logger, nil)
	d.policyLoop.SetObserver(a.metrics)

	if pc.WatchDrift {
		w, err := policy.NewDriftWatcher(engine, driftDebounce, func(target string) {
			d.policyLoop.Trigger()
		}, a.logger)
		if err != nil {
			// Drift only speeds up repair; the next poll converges anyway.
			a.logger.Warn("drift watcher unavailable", "error", err)
		} else if w != nil {
			d.drift = w
		}
	}
	return nil
}

func (d *daemon) setupUsage() error {
	a := d.app
	if len(a.identities) == 0 {
		a.logger.Info("no identities configured, usage loop disabled")
		return nil
	}

	runner := &enforce.ExecRunner{}
	probe := a.probe
	if probe == nil {
		p, err := usage.NewProbe(a.goos, runner, a.clock)
		if err != nil {
			return fmt.Errorf("creating session probe: %w", err)
		}
		probe = p
	}
	enforcer := a.enforcer
	if enforcer == nil {
		e, err := enforce.NewExecutor(a.goos, runner, a.logger)
		if err != nil {
			return fmt.Errorf("creating enforcement executor: %w", err)
		}
		enforcer = e
	}
	notifier := a.notifier
	if notifier == nil {
		notifier = enforce.NewNotifier(a.goos, runner)
	}

	uc := a.cfg.Usage
	d.tracker = usage.NewTracker(a.identities, usage.Options{
		Interval:       uc.TickInterval,
		IdleThreshold:  uc.IdleThreshold,
		TamperFactor:   uc.TamperFactor,
		DriftTolerance: uc.DriftTolerance,
		HistoryDays:    uc.HistoryDays,
		Location:       a.location,
		ExemptAccounts: uc.ExemptAccounts,
		Action:         model.EnforcementAction(uc.EnforcementAction),
	}, usage.Deps{
		Store:    a.store,
		History:  a.db,
		Probe:    probe,
		Enforcer: enforcer,
		Notifier: notifier,
		Offload:  d.pool,
		Clock:    a.clock,
		IDs:      a.ids,
		Logger:   a.logger,
		Observer: a.metrics,
	})

	d.usageLoop = scheduler.NewLoop(scheduler.LoopConfig{
		Name:        "usage",
		Interval:    uc.TickInterval,
		BackoffBase: uc.TickInterval,
		BackoffCap:  uc.BackoffCap,
		Aligned:     true,
	}, d.tracker.Tick, a.clock, a.logger, nil)
	d.usageLoop.SetObserver(a.metrics)
	return nil
}

// poll is one policy loop tick. The cached validator is sent only while
// every target is clean, so a dirty target always gets a full document.
// An Unchanged result never reaches the engine.
func (d *daemon) poll(ctx context.Context) error {
	a := d.app

	var token *model.FetchCacheToken
	if !d.engine.NeedsFullFetch() {
		cached, err := a.store.LoadFetchCache()
		if err != nil {
			a.logger.Warn("fetch cache unreadable, fetching in full", "error", err)
		} else {
			token = cached
		}
	}

	res, err := d.fetcher.Fetch(ctx, token)
	a.metrics.FetchDone(res, err)
	if err != nil {
		return fmt.Errorf("fetching policy from %s: %w", d.fetcher.Source(), err)
	}

	if res.Status == curfew.FetchUnchanged {
		a.logger.Debug("policy unchanged", "source", d.fetcher.Source())
		d.saveToken(res.Token)
		return nil
	}

	result, err := d.engine.Apply(ctx, res.Document)
	a.metrics.Converged(result)
	if err != nil {
		if errors.Is(err, curfew.ErrDocumentInvalid) {
			return err
		}
		return fmt.Errorf("applying policy: %w", err)
	}
	// Failed targets are dirty now, so the next fetch ignores the token.
	d.saveToken(res.Token)
	if err := result.Err(); err != nil {
		return err
	}
	a.logger.Info("policy converged", "hash", result.ContentHash, "writes", result.Writes())
	return nil
}

func (d *daemon) saveToken(token *model.FetchCacheToken) {
	if token == nil {
		return
	}
	if err := d.app.store.SaveFetchCache(token); err != nil {
		d.app.logger.Warn("saving fetch cache failed", "error", err)
	}
}
