package database

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the SQL for the history database. Rows are mapped to the
// flat structs below; SQLiteDatabase converts them to model types.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

type UsageHistoryRow struct {
	IdentityID    string
	Date          string
	BudgetNs      int64
	AccumulatedNs int64
	ExtensionNs   int64
	Sessions      int64
	WarningsShown int64
	LockedAt      sql.NullString
	Tampered      bool
	Overrides     int64
	SealedAt      string
}

type AdminOverrideRow struct {
	ID         string
	IdentityID string
	Kind       string
	AmountNs   int64
	CreatedAt  string
	Actor      string
	Reason     string
	AppliedAt  sql.NullString
}

const upsertUsageHistory = `
INSERT INTO usage_history (
    identity_id, date, budget_ns, accumulated_ns, extension_ns,
    sessions, warnings_shown, locked_at, tampered, overrides, sealed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (identity_id, date) DO UPDATE SET
    budget_ns = excluded.budget_ns,
    accumulated_ns = excluded.accumulated_ns,
    extension_ns = excluded.extension_ns,
    sessions = excluded.sessions,
    warnings_shown = excluded.warnings_shown,
    locked_at = excluded.locked_at,
    tampered = excluded.tampered,
    overrides = excluded.overrides,
    sealed_at = excluded.sealed_at`

func (q *Queries) UpsertUsageHistory(ctx context.Context, r UsageHistoryRow) error {
	_, err := q.db.ExecContext(ctx, upsertUsageHistory,
		r.IdentityID, r.Date, r.BudgetNs, r.AccumulatedNs, r.ExtensionNs,
		r.Sessions, r.WarningsShown, r.LockedAt, r.Tampered, r.Overrides, r.SealedAt)
	return err
}

const deleteUsageHistoryBefore = `DELETE FROM usage_history WHERE date < ?`

func (q *Queries) DeleteUsageHistoryBefore(ctx context.Context, date string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteUsageHistoryBefore, date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listUsageHistory = `
SELECT identity_id, date, budget_ns, accumulated_ns, extension_ns,
       sessions, warnings_shown, locked_at, tampered, overrides, sealed_at
FROM usage_history
WHERE date >= ? AND (? = '' OR identity_id = ?)
ORDER BY date, identity_id`

func (q *Queries) ListUsageHistory(ctx context.Context, since, identityID string) ([]UsageHistoryRow, error) {
	rows, err := q.db.QueryContext(ctx, listUsageHistory, since, identityID, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []UsageHistoryRow
	for rows.Next() {
		var r UsageHistoryRow
		if err := rows.Scan(&r.IdentityID, &r.Date, &r.BudgetNs, &r.AccumulatedNs, &r.ExtensionNs,
			&r.Sessions, &r.WarningsShown, &r.LockedAt, &r.Tampered, &r.Overrides, &r.SealedAt); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const insertAdminOverride = `
INSERT INTO admin_overrides (id, identity_id, kind, amount_ns, created_at, actor, reason)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertAdminOverride(ctx context.Context, r AdminOverrideRow) error {
	_, err := q.db.ExecContext(ctx, insertAdminOverride,
		r.ID, r.IdentityID, r.Kind, r.AmountNs, r.CreatedAt, r.Actor, r.Reason)
	return err
}

const selectOverrideColumns = `SELECT id, identity_id, kind, amount_ns, created_at, actor, reason, applied_at FROM admin_overrides`

const listPendingOverrides = selectOverrideColumns + `
WHERE applied_at IS NULL
ORDER BY rowid`

func (q *Queries) ListPendingOverrides(ctx context.Context) ([]AdminOverrideRow, error) {
	return q.queryOverrides(ctx, listPendingOverrides)
}

const listOverridesForIdentity = selectOverrideColumns + `
WHERE (? = '' OR identity_id = ? OR identity_id = '')
ORDER BY rowid DESC
LIMIT ?`

func (q *Queries) ListOverridesForIdentity(ctx context.Context, identityID string, limit int64) ([]AdminOverrideRow, error) {
	return q.queryOverrides(ctx, listOverridesForIdentity, identityID, identityID, limit)
}

const markOverrideApplied = `UPDATE admin_overrides SET applied_at = ? WHERE id = ? AND applied_at IS NULL`

func (q *Queries) MarkOverrideApplied(ctx context.Context, id string, at string) (int64, error) {
	res, err := q.db.ExecContext(ctx, markOverrideApplied, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) queryOverrides(ctx context.Context, query string, args ...any) ([]AdminOverrideRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []AdminOverrideRow
	for rows.Next() {
		var r AdminOverrideRow
		if err := rows.Scan(&r.ID, &r.IdentityID, &r.Kind, &r.AmountNs, &r.CreatedAt,
			&r.Actor, &r.Reason, &r.AppliedAt); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
