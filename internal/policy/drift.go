package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"curfew/internal/curfew"
)

// DriftWatcher watches the files of file-backed targets. When one changes
// and its digest no longer matches what curfew wrote, the target is marked
// dirty and onDrift is called so the poll loop can run early.
//
// The parent directory is watched rather than the file, since atomic
// replacement swaps the inode.
type DriftWatcher struct {
	engine   *Engine
	watcher  *fsnotify.Watcher
	paths    map[string]string // cleaned file path -> target
	debounce time.Duration
	onDrift  func(target string)
	logger   curfew.Logger
}

// NewDriftWatcher registers every target whose writer reports a digest.
// It returns nil, nil when there is nothing to watch.
func NewDriftWatcher(engine *Engine, debounce time.Duration, onDrift func(string), logger curfew.Logger) (*DriftWatcher, error) {
	paths := make(map[string]string)
	for _, target := range engine.Targets() {
		w, _ := engine.Writer(target)
		if _, ok := w.(curfew.DigestReporter); !ok {
			continue
		}
		paths[filepath.Clean(w.Location())] = target
	}
	if len(paths) == 0 {
		return nil, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	dirs := make(map[string]bool)
	for path := range paths {
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			fw.Close()
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	if onDrift == nil {
		onDrift = func(string) {}
	}
	return &DriftWatcher{
		engine:   engine,
		watcher:  fw,
		paths:    paths,
		debounce: debounce,
		onDrift:  onDrift,
		logger:   logger,
	}, nil
}

// Run processes events until ctx is done, then closes the watcher.
func (d *DriftWatcher) Run(ctx context.Context) error {
	defer d.watcher.Close()

	pending := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			target, watched := d.paths[filepath.Clean(event.Name)]
			if !watched || event.Op == fsnotify.Chmod {
				continue
			}
			pending[target] = true
			if timer == nil {
				timer = time.NewTimer(d.debounce)
			} else {
				timer.Reset(d.debounce)
			}
			timerC = timer.C

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("drift watcher error", "error", err)

		case <-timerC:
			timerC = nil
			for target := range pending {
				delete(pending, target)
				drifted, err := d.engine.CheckDrift(target)
				if err != nil {
					d.logger.Warn("drift check failed", "target", target, "error", err)
					continue
				}
				if drifted {
					d.onDrift(target)
				}
			}
		}
	}
}
