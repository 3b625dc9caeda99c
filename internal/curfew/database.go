package curfew

import (
	"time"

	"curfew/internal/model"
)

// HistoryDatabase stores sealed usage days and the admin override queue.
// All methods should be implemented with appropriate transaction handling.
type HistoryDatabase interface {
	// Usage history

	// SealDay stores a sealed day. Sealing the same identity/date twice
	// replaces the earlier entry.
	SealDay(entry *model.HistoryEntry) error

	// PruneHistory deletes entries dated strictly before the given ISO date
	// and returns how many were removed.
	PruneHistory(before string) (int64, error)

	// ListHistory returns entries dated on or after since, oldest first.
	// An empty identityID lists every identity.
	ListHistory(identityID string, since string) ([]*model.HistoryEntry, error)

	// Override queue

	// EnqueueOverride appends an override that the tracker has not applied yet.
	EnqueueOverride(override *model.AdminOverride) error

	// PendingOverrides returns unapplied overrides in submission order.
	PendingOverrides() ([]*model.AdminOverride, error)

	// MarkOverrideApplied records that the tracker applied an override.
	MarkOverrideApplied(id string, at time.Time) error

	// ListOverrides returns the audit trail for an identity, newest first.
	ListOverrides(identityID string, limit int) ([]*model.AdminOverride, error)

	CheckMigrations() error

	// Close closes the database connection.
	Close() error
}
