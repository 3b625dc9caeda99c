package usage

import (
	"slices"
	"time"

	"curfew/internal/model"
)

// applyOverrides drains the override queue into the usage state. Each
// override's effect is skipped when its ID is already recorded on the day,
// so a crash between saving the state and marking the queue entry applied
// cannot apply it twice. It returns the IDs to mark once the state is saved.
func (t *Tracker) applyOverrides(now time.Time, date string) []string {
	pending, err := t.deps.History.PendingOverrides()
	if err != nil {
		t.deps.Logger.Warn("reading override queue failed", "error", err)
		return nil
	}

	var applied []string
	for _, o := range pending {
		appliedAt := now.UTC()
		rec := *o
		rec.AppliedAt = &appliedAt

		switch o.Kind {
		case model.OverridePause, model.OverrideResume:
			t.state.Paused = o.Kind == model.OverridePause
			for _, day := range t.state.Days {
				if !hasOverride(day, o.ID) {
					day.Overrides = append(day.Overrides, rec)
				}
			}
			t.deps.Logger.Info("tracking "+string(o.Kind)+"d", "actor", o.Actor)

		default:
			if _, ok := t.identities[o.IdentityID]; !ok {
				t.deps.Logger.Warn("override for unknown identity dropped", "identity", o.IdentityID, "kind", o.Kind)
				break
			}
			day := t.dayFor(o.IdentityID, date, now)
			if hasOverride(day, o.ID) {
				break
			}
			applyToDay(day, o)
			day.Overrides = append(day.Overrides, rec)
			t.deps.Logger.Info("override applied", "identity", o.IdentityID, "kind", o.Kind,
				"amount", o.Amount, "actor", o.Actor)
		}
		applied = append(applied, o.ID)
	}
	return applied
}

func applyToDay(day *model.UsageDay, o *model.AdminOverride) {
	switch o.Kind {
	case model.OverrideExtension:
		day.Extension += o.Amount
		if day.Remaining() > 0 && (day.Phase == model.PhaseGrace || day.Phase == model.PhaseLocked) {
			day.Phase = model.PhaseActive
			if len(day.WarningsShown) > 0 {
				day.Phase = model.PhaseWarned
			}
			clearLock(day)
			day.LockedAt = nil
		}
	case model.OverrideReset:
		day.Accumulated = 0
		day.Extension = 0
		day.WarningsShown = nil
		day.Phase = model.PhaseIdle
		day.Unlocked = false
		clearLock(day)
		day.LockedAt = nil
	case model.OverrideUnlock:
		day.Unlocked = true
		day.Phase = model.PhaseActive
		clearLock(day)
	}
}

func clearLock(day *model.UsageDay) {
	day.GraceStartedAt = nil
	day.GraceElapsed = 0
	day.LockedSessions = nil
}

func hasOverride(day *model.UsageDay, id string) bool {
	return slices.ContainsFunc(day.Overrides, func(o model.AdminOverride) bool { return o.ID == id })
}

func (t *Tracker) markApplied(ids []string, now time.Time) {
	for _, id := range ids {
		if err := t.deps.History.MarkOverrideApplied(id, now.UTC()); err != nil {
			t.deps.Logger.Warn("marking override applied failed", "override", id, "error", err)
		}
	}
}
