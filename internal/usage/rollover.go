package usage

import (
	"maps"
	"slices"
	"time"

	"curfew/internal/model"
)

// rollover seals every day older than date into history. A day that fails
// to seal is logged and dropped; tracking the new day goes on regardless.
func (t *Tracker) rollover(now time.Time, date string) {
	sealed := 0
	for _, id := range slices.Sorted(maps.Keys(t.state.Days)) {
		day := t.state.Days[id]
		if day.Date >= date {
			continue
		}
		entry := Seal(day, now)
		if err := t.deps.History.SealDay(entry); err != nil {
			t.deps.Logger.Error("sealing usage day failed", "identity", id, "date", day.Date, "error", err)
		} else {
			sealed++
			t.deps.Logger.Info("usage day sealed", "identity", id, "date", day.Date,
				"accumulated", day.Accumulated, "budget", day.Budget)
		}
		delete(t.state.Days, id)
	}
	if sealed > 0 {
		t.exportHistory(now)
	}
}

// Seal summarizes a finished day.
func Seal(day *model.UsageDay, now time.Time) *model.HistoryEntry {
	return &model.HistoryEntry{
		IdentityID:    day.IdentityID,
		Date:          day.Date,
		Budget:        day.Budget,
		Accumulated:   day.Accumulated,
		Extension:     day.Extension,
		Sessions:      len(day.Sessions),
		WarningsShown: len(day.WarningsShown),
		LockedAt:      day.LockedAt,
		Tampered:      day.Tampered,
		Overrides:     len(day.Overrides),
		SealedAt:      now.UTC(),
	}
}

// exportHistory prunes entries beyond the rolling window and writes the
// rest as the usage-history document.
func (t *Tracker) exportHistory(now time.Time) {
	cutoff := now.In(t.opts.Location).AddDate(0, 0, -t.opts.HistoryDays).Format(time.DateOnly)
	if n, err := t.deps.History.PruneHistory(cutoff); err != nil {
		t.deps.Logger.Warn("pruning usage history failed", "error", err)
	} else if n > 0 {
		t.deps.Logger.Info("usage history pruned", "removed", n, "before", cutoff)
	}

	entries, err := t.deps.History.ListHistory("", cutoff)
	if err != nil {
		t.deps.Logger.Warn("listing usage history failed", "error", err)
		return
	}
	doc := &model.UsageHistory{
		SchemaVersion: model.UsageHistorySchemaVersion,
		WindowDays:    t.opts.HistoryDays,
		ExportedAt:    now.UTC(),
		Entries:       entries,
	}
	if err := t.deps.Store.SaveUsageHistory(doc); err != nil {
		t.deps.Logger.Warn("exporting usage history failed", "error", err)
	}
}
