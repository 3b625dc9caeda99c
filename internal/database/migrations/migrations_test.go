package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"usage_history", "admin_overrides", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	err := CheckDBMigrationStatus(db)
	if !errors.Is(err, ErrNeedsMigration) {
		t.Errorf("CheckDBMigrationStatus() error = %v, want ErrNeedsMigration", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}

	latest, err := LatestVersion()
	if err != nil {
		t.Fatal(err)
	}
	version, dirty, err := CurrentVersion(db)
	if err != nil || dirty || version != latest {
		t.Errorf("CurrentVersion() = %d, %v, %v, want %d, false, nil", version, dirty, err, latest)
	}
}

func TestSchema_UsageHistoryKey(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO usage_history (identity_id, date, budget_ns, accumulated_ns, sealed_at)
		VALUES ('alice', '2026-03-09', 1, 1, '2026-03-10T00:00:00Z')`
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("Expected primary key violation for duplicate identity/date, but insert succeeded")
	}
}

func TestSchema_OverrideKindChecked(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO admin_overrides (id, kind, created_at, actor)
		VALUES ('o-1', 'delete-everything', '2026-03-09T00:00:00Z', 'admin')`)
	if err == nil {
		t.Error("Expected CHECK violation for unknown kind, but insert succeeded")
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
