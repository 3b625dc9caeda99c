package database

import (
	"fmt"
	"os"
	"path/filepath"

	"curfew/internal/config"
	"curfew/internal/curfew"
)

// FileName is the history database file inside database.data_dir.
const FileName = "history.db"

// NewDatabaseFromConfig creates a HistoryDatabase implementation based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (curfew.HistoryDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, FileName))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
