package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"curfew/internal/curfew"
	"curfew/internal/database/migrations"
	"curfew/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the HistoryDatabase interface using SQLite.
type SQLiteDatabase struct {
	db      *sql.DB
	queries *Queries
	path    string
}

// NewSQLiteDatabase opens the database at path and applies pending
// migrations. path can be a file path or ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}

	return &SQLiteDatabase{
		db:      db,
		queries: NewQueries(db),
		path:    path,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{
		db:      db,
		queries: NewQueries(db),
	}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	// The daemon and the admin CLI touch the file-backed database from
	// separate processes, so one connection per process is plenty either way.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return db, nil
}

// Usage history

func (s *SQLiteDatabase) SealDay(entry *model.HistoryEntry) error {
	row := UsageHistoryRow{
		IdentityID:    entry.IdentityID,
		Date:          entry.Date,
		BudgetNs:      int64(entry.Budget),
		AccumulatedNs: int64(entry.Accumulated),
		ExtensionNs:   int64(entry.Extension),
		Sessions:      int64(entry.Sessions),
		WarningsShown: int64(entry.WarningsShown),
		Tampered:      entry.Tampered,
		Overrides:     int64(entry.Overrides),
		SealedAt:      formatTime(entry.SealedAt),
	}
	if entry.LockedAt != nil {
		row.LockedAt = sql.NullString{String: formatTime(*entry.LockedAt), Valid: true}
	}
	if err := s.queries.UpsertUsageHistory(context.Background(), row); err != nil {
		return fmt.Errorf("sealing %s/%s: %w", entry.IdentityID, entry.Date, err)
	}
	return nil
}

func (s *SQLiteDatabase) PruneHistory(before string) (int64, error) {
	n, err := s.queries.DeleteUsageHistoryBefore(context.Background(), before)
	if err != nil {
		return 0, fmt.Errorf("pruning history before %s: %w", before, err)
	}
	return n, nil
}

func (s *SQLiteDatabase) ListHistory(identityID string, since string) ([]*model.HistoryEntry, error) {
	rows, err := s.queries.ListUsageHistory(context.Background(), since, identityID)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	entries := make([]*model.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		sealedAt, err := parseTime(r.SealedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing sealed_at for %s/%s: %w", r.IdentityID, r.Date, err)
		}
		e := &model.HistoryEntry{
			IdentityID:    r.IdentityID,
			Date:          r.Date,
			Budget:        time.Duration(r.BudgetNs),
			Accumulated:   time.Duration(r.AccumulatedNs),
			Extension:     time.Duration(r.ExtensionNs),
			Sessions:      int(r.Sessions),
			WarningsShown: int(r.WarningsShown),
			Tampered:      r.Tampered,
			Overrides:     int(r.Overrides),
			SealedAt:      sealedAt,
		}
		if r.LockedAt.Valid {
			lockedAt, err := parseTime(r.LockedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing locked_at for %s/%s: %w", r.IdentityID, r.Date, err)
			}
			e.LockedAt = &lockedAt
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Override queue

func (s *SQLiteDatabase) EnqueueOverride(o *model.AdminOverride) error {
	row := AdminOverrideRow{
		ID:         o.ID,
		IdentityID: o.IdentityID,
		Kind:       string(o.Kind),
		AmountNs:   int64(o.Amount),
		CreatedAt:  formatTime(o.Timestamp),
		Actor:      o.Actor,
		Reason:     o.Reason,
	}
	if err := s.queries.InsertAdminOverride(context.Background(), row); err != nil {
		return fmt.Errorf("enqueueing %s override: %w", o.Kind, err)
	}
	return nil
}

func (s *SQLiteDatabase) PendingOverrides() ([]*model.AdminOverride, error) {
	rows, err := s.queries.ListPendingOverrides(context.Background())
	if err != nil {
		return nil, fmt.Errorf("listing pending overrides: %w", err)
	}
	return overridesFromRows(rows)
}

func (s *SQLiteDatabase) MarkOverrideApplied(id string, at time.Time) error {
	n, err := s.queries.MarkOverrideApplied(context.Background(), id, formatTime(at))
	if err != nil {
		return fmt.Errorf("marking override %s applied: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("override %s not found or already applied", id)
	}
	return nil
}

func (s *SQLiteDatabase) ListOverrides(identityID string, limit int) ([]*model.AdminOverride, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.queries.ListOverridesForIdentity(context.Background(), identityID, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing overrides: %w", err)
	}
	return overridesFromRows(rows)
}

func overridesFromRows(rows []AdminOverrideRow) ([]*model.AdminOverride, error) {
	out := make([]*model.AdminOverride, 0, len(rows))
	for _, r := range rows {
		ts, err := parseTime(r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for override %s: %w", r.ID, err)
		}
		o := &model.AdminOverride{
			ID:         r.ID,
			IdentityID: r.IdentityID,
			Kind:       model.OverrideKind(r.Kind),
			Amount:     time.Duration(r.AmountNs),
			Timestamp:  ts,
			Actor:      r.Actor,
			Reason:     r.Reason,
		}
		if r.AppliedAt.Valid {
			at, err := parseTime(r.AppliedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing applied_at for override %s: %w", r.ID, err)
			}
			o.AppliedAt = &at
		}
		out = append(out, o)
	}
	return out, nil
}

// Path returns the database file path.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements curfew.HistoryDatabase interface
var _ curfew.HistoryDatabase = (*SQLiteDatabase)(nil)
