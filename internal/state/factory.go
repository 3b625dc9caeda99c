package state

import (
	"fmt"

	"curfew/internal/config"
	"curfew/internal/curfew"
)

// NewStoreFromConfig creates a StateStore implementation based on the store config type.
func NewStoreFromConfig(cfg *config.Config, clock curfew.Clock) (curfew.StateStore, error) {
	switch cfg.Store.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem", "":
		dir := cfg.Store.Dir
		if dir == "" {
			dir = cfg.Daemon.StateDir
		}
		if dir == "" {
			return nil, fmt.Errorf("filesystem store requires store.dir or daemon.state_dir to be set")
		}
		return NewFileSystemStore(dir, clock)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Store.Type)
	}
}
