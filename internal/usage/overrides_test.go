package usage

import (
	"testing"
	"time"

	"curfew/internal/model"
)

func (h *harness) enqueue(t *testing.T, o *model.AdminOverride) {
	t.Helper()
	if o.Timestamp.IsZero() {
		o.Timestamp = h.clock.Now()
	}
	if o.Actor == "" {
		o.Actor = "admin"
	}
	if err := h.db.EnqueueOverride(o); err != nil {
		t.Fatalf("EnqueueOverride() error = %v", err)
	}
}

func lockedHarness(t *testing.T) *harness {
	t.Helper()
	id := alice()
	id.WeekdayBudget = time.Minute
	id.Warnings = nil
	h := newHarness(t, id)
	h.login("alice", "c1")
	h.ticks(t, 6)
	if got := h.day(t, "alice").Phase; got != model.PhaseLocked {
		t.Fatalf("Phase = %v, want %v", got, model.PhaseLocked)
	}
	return h
}

func TestOverride_ExtensionUnlocks(t *testing.T) {
	h := lockedHarness(t)

	h.enqueue(t, &model.AdminOverride{ID: "o1", IdentityID: "alice", Kind: model.OverrideExtension, Amount: 30 * time.Second})
	h.ticks(t, 1)

	day := h.day(t, "alice")
	if day.Extension != 30*time.Second {
		t.Errorf("Extension = %v, want %v", day.Extension, 30*time.Second)
	}
	if day.Phase != model.PhaseActive {
		t.Errorf("Phase = %v, want %v", day.Phase, model.PhaseActive)
	}
	if day.LockedAt != nil {
		t.Errorf("LockedAt = %v, want nil", day.LockedAt)
	}

	// The extra time runs out and the day locks again.
	h.ticks(t, 2)
	if got := h.day(t, "alice").Phase; got != model.PhaseLocked {
		t.Errorf("Phase = %v, want %v", got, model.PhaseLocked)
	}
	if got := h.enforcer.Count(); got != 2 {
		t.Errorf("enforcements = %d, want 2", got)
	}
}

func TestOverride_Reset(t *testing.T) {
	h := lockedHarness(t)

	h.enqueue(t, &model.AdminOverride{ID: "o1", IdentityID: "alice", Kind: model.OverrideReset})
	h.probe.Set(nil)
	h.ticks(t, 1)

	day := h.day(t, "alice")
	if day.Accumulated != 0 {
		t.Errorf("Accumulated = %v, want 0", day.Accumulated)
	}
	if day.Phase != model.PhaseIdle {
		t.Errorf("Phase = %v, want %v", day.Phase, model.PhaseIdle)
	}
	if len(day.LockedSessions) != 0 {
		t.Errorf("LockedSessions = %v, want none", day.LockedSessions)
	}
}

func TestOverride_UnlockForTheDay(t *testing.T) {
	h := lockedHarness(t)

	h.enqueue(t, &model.AdminOverride{ID: "o1", IdentityID: "alice", Kind: model.OverrideUnlock})
	h.ticks(t, 30)

	day := h.day(t, "alice")
	if !day.Unlocked {
		t.Error("Unlocked = false, want true")
	}
	if day.Phase != model.PhaseActive {
		t.Errorf("Phase = %v, want %v", day.Phase, model.PhaseActive)
	}
	if got := h.enforcer.Count(); got != 1 {
		t.Errorf("enforcements = %d, want 1", got)
	}
	// Usage is still counted.
	if day.Accumulated != 36*tick {
		t.Errorf("Accumulated = %v, want %v", day.Accumulated, 36*tick)
	}
}

func TestOverride_PauseAndResume(t *testing.T) {
	h := newHarness(t, alice())
	h.login("alice", "c1")
	h.ticks(t, 3)

	h.enqueue(t, &model.AdminOverride{ID: "o1", Kind: model.OverridePause})
	h.ticks(t, 10)
	if got := h.day(t, "alice").Accumulated; got != 3*tick {
		t.Errorf("Accumulated while paused = %v, want %v", got, 3*tick)
	}
	if !h.tracker.State().Paused {
		t.Error("Paused = false, want true")
	}

	h.enqueue(t, &model.AdminOverride{ID: "o2", Kind: model.OverrideResume})
	h.ticks(t, 2)
	if got := h.day(t, "alice").Accumulated; got != 5*tick {
		t.Errorf("Accumulated after resume = %v, want %v", got, 5*tick)
	}
	if got := len(h.day(t, "alice").Overrides); got != 2 {
		t.Errorf("len(Overrides) = %d, want 2", got)
	}
}

func TestOverride_AppliedOnce(t *testing.T) {
	h := lockedHarness(t)

	h.enqueue(t, &model.AdminOverride{ID: "o1", IdentityID: "alice", Kind: model.OverrideExtension, Amount: time.Hour})
	h.ticks(t, 3)

	day := h.day(t, "alice")
	if day.Extension != time.Hour {
		t.Errorf("Extension = %v, want %v", day.Extension, time.Hour)
	}
	pending, err := h.db.PendingOverrides()
	if err != nil {
		t.Fatalf("PendingOverrides() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
	if len(day.Overrides) != 1 || day.Overrides[0].AppliedAt == nil {
		t.Errorf("Overrides = %+v, want one applied entry", day.Overrides)
	}
}

func TestOverride_UnknownIdentityDropped(t *testing.T) {
	h := newHarness(t, alice())
	h.enqueue(t, &model.AdminOverride{ID: "o1", IdentityID: "mallory", Kind: model.OverrideExtension, Amount: time.Hour})
	h.ticks(t, 1)

	pending, err := h.db.PendingOverrides()
	if err != nil {
		t.Fatalf("PendingOverrides() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
	if len(h.tracker.State().Days) != 0 {
		t.Errorf("Days = %v, want none", h.tracker.State().Days)
	}
}

// A crash after saving the state but before marking the queue entry leaves
// the override pending although the day already carries it.
func TestOverride_NotReappliedAfterCrash(t *testing.T) {
	h := newHarness(t, alice())
	h.login("alice", "c1")
	h.ticks(t, 1)
	h.tracker.state.Days["alice"].Overrides = []model.AdminOverride{{ID: "o1", Kind: model.OverrideExtension}}

	h.enqueue(t, &model.AdminOverride{ID: "o1", IdentityID: "alice", Kind: model.OverrideExtension, Amount: time.Hour})
	h.ticks(t, 1)

	if got := h.day(t, "alice").Extension; got != 0 {
		t.Errorf("Extension = %v, want 0", got)
	}
	pending, err := h.db.PendingOverrides()
	if err != nil {
		t.Fatalf("PendingOverrides() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}
