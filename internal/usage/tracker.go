// Package usage tracks active screen time per identity and day, warns as
// the budget runs out and enforces the configured action once it is spent.
//
// The Tracker is the only writer of the usage-state document. Admin
// overrides reach it through the history database's queue and are applied
// at the start of the next tick.
package usage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// Observer receives tracker events, e.g. for metrics.
type Observer interface {
	Ticked(identity string, accumulated, remaining time.Duration)
	Tampered(reason string)
	Enforced(action model.EnforcementAction, mechanism string, ok bool)
}

type nopObserver struct{}

func (nopObserver) Ticked(string, time.Duration, time.Duration)    {}
func (nopObserver) Tampered(string)                                {}
func (nopObserver) Enforced(model.EnforcementAction, string, bool) {}

// Options configures a Tracker.
type Options struct {
	Interval       time.Duration
	IdleThreshold  time.Duration
	TamperFactor   float64
	DriftTolerance time.Duration
	HistoryDays    int
	Location       *time.Location
	ExemptAccounts []string
	Action         model.EnforcementAction
}

// Deps are the tracker's collaborators.
type Deps struct {
	Store    curfew.StateStore
	History  curfew.HistoryDatabase
	Probe    curfew.SessionProbe
	Enforcer curfew.Enforcer
	Notifier curfew.Notifier
	Offload  curfew.Offloader
	Clock    curfew.Clock
	IDs      curfew.IDGenerator
	Logger   curfew.Logger
	Observer Observer
}

// Tracker runs the per-identity daily state machine
// Idle → Active → Warned → Grace → Locked.
type Tracker struct {
	opts       Options
	deps       Deps
	identities map[string]model.Identity
	byAlias    map[string]string
	exempt     map[string]bool
	guard      *Guard

	mu    sync.Mutex
	state *model.UsageState
}

// NewTracker creates a tracker for identities.
func NewTracker(identities []model.Identity, opts Options, deps Deps) *Tracker {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 90
	}
	if opts.Action == "" {
		opts.Action = model.ActionLock
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	t := &Tracker{
		opts:       opts,
		deps:       deps,
		identities: make(map[string]model.Identity, len(identities)),
		byAlias:    make(map[string]string),
		exempt:     make(map[string]bool, len(opts.ExemptAccounts)),
		guard: &Guard{
			Interval:  opts.Interval,
			Factor:    opts.TamperFactor,
			Tolerance: opts.DriftTolerance,
		},
	}
	for _, id := range identities {
		t.identities[id.ID] = id
		for _, alias := range id.Aliases {
			t.byAlias[accountKey(alias)] = id.ID
		}
	}
	for _, account := range opts.ExemptAccounts {
		t.exempt[accountKey(account)] = true
	}
	return t
}

// accountKey folds an OS account name for matching. Windows account names
// are case-insensitive and quser reports them lowercased.
func accountKey(name string) string {
	return strings.ToLower(name)
}

// Tick runs one accounting step. Ticks must not overlap; the scheduler
// guarantees that, and the mutex makes a stray concurrent call wait.
func (t *Tracker) Tick(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == nil {
		t.load()
	}
	wall := t.deps.Clock.Now()
	verdict := t.guard.Check(wall, t.deps.Clock.Monotonic(), t.state.LastTickWall)
	// Everything below runs on trusted time, so a moved clock never
	// reaches a day boundary early.
	now := verdict.Trusted
	date := now.In(t.opts.Location).Format(time.DateOnly)

	t.rollover(now, date)
	if verdict.Tampered {
		t.flagTamper(now, date, verdict)
	}
	applied := t.applyOverrides(now, date)

	var probeErr error
	if !t.state.Paused && !verdict.Tampered {
		probeErr = t.track(ctx, now, date, verdict.Credit)
	}

	wall = wall.UTC()
	t.state.LastTickWall = &wall
	t.state.ClockOffset = t.guard.Offset
	if err := t.deps.Store.SaveUsageState(t.state); err != nil {
		return fmt.Errorf("saving usage state: %w", err)
	}
	t.markApplied(applied, now)
	if probeErr != nil {
		return fmt.Errorf("probing active session: %w", probeErr)
	}
	return nil
}

// State returns a deep copy of the usage state.
func (t *Tracker) State() *model.UsageState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == nil {
		t.load()
	}
	cp := *t.state
	cp.Days = make(map[string]*model.UsageDay, len(t.state.Days))
	for id, day := range t.state.Days {
		d := *day
		d.WarningsShown = slices.Clone(day.WarningsShown)
		d.Sessions = slices.Clone(day.Sessions)
		d.LockedSessions = slices.Clone(day.LockedSessions)
		d.TamperEvents = slices.Clone(day.TamperEvents)
		d.Overrides = slices.Clone(day.Overrides)
		cp.Days[id] = &d
	}
	return &cp
}

func (t *Tracker) load() {
	st, err := t.deps.Store.LoadUsageState()
	if err != nil {
		// Unreadable usage restarts from zero usage, never from unlimited time.
		t.deps.Logger.Error("usage state unusable, starting from zero usage", "error", err)
	}
	if st == nil {
		st = model.NewUsageState()
	}
	if st.Days == nil {
		st.Days = make(map[string]*model.UsageDay)
	}
	t.state = st
	t.guard.Offset = st.ClockOffset
}

// track credits the foreground session and drives its identity's day.
func (t *Tracker) track(ctx context.Context, now time.Time, date string, credit time.Duration) error {
	var session *curfew.Session
	err := t.deps.Offload.Do(ctx, func() error {
		var perr error
		session, perr = t.deps.Probe.ActiveSession(ctx)
		return perr
	})
	if err != nil {
		return err
	}
	if session == nil {
		t.state.ActiveSession = nil
		return nil
	}
	account := accountKey(session.Account)
	if t.exempt[account] {
		t.state.ActiveSession = nil
		return nil
	}
	identityID, ok := t.byAlias[account]
	if !ok {
		t.state.ActiveSession = nil
		return nil
	}
	identity := t.identities[identityID]
	day := t.dayFor(identityID, date, now)

	active := !session.IdleKnown || session.Idle < t.opts.IdleThreshold
	if active {
		t.recordSpan(day, identityID, session, now)
		day.Accumulated += credit
		if day.Phase == model.PhaseIdle {
			day.Phase = model.PhaseActive
		}
	}

	if !day.Unlocked {
		t.advance(ctx, identity, day, session, now, credit)
	}
	t.deps.Observer.Ticked(identityID, day.Accumulated, day.Remaining())
	return nil
}

func (t *Tracker) recordSpan(day *model.UsageDay, identityID string, s *curfew.Session, now time.Time) {
	now = now.UTC()
	idx := slices.IndexFunc(day.Sessions, func(sp model.SessionSpan) bool {
		return sp.SessionID == s.SessionID && sp.Account == s.Account
	})
	if idx >= 0 {
		day.Sessions[idx].LastActivity = now
	} else {
		start := now
		if a := t.state.ActiveSession; a != nil && a.SessionID == s.SessionID && a.Account == s.Account && a.IdentityID == identityID {
			start = a.SessionStart
		}
		day.Sessions = append(day.Sessions, model.SessionSpan{
			ID:           t.deps.IDs.New(),
			Account:      s.Account,
			SessionID:    s.SessionID,
			Start:        start,
			LastActivity: now,
		})
		idx = len(day.Sessions) - 1
	}
	t.state.ActiveSession = &model.ActiveSession{
		IdentityID:   identityID,
		Account:      s.Account,
		SessionID:    s.SessionID,
		SessionStart: day.Sessions[idx].Start,
		LastActivity: now,
	}
}

// advance moves the day through warnings, grace and lock.
func (t *Tracker) advance(ctx context.Context, id model.Identity, day *model.UsageDay, s *curfew.Session, now time.Time, credit time.Duration) {
	remaining := day.Remaining()

	if day.Phase != model.PhaseLocked && day.Phase != model.PhaseGrace {
		var crossed []time.Duration
		for _, threshold := range id.Warnings {
			if remaining <= threshold && remaining > 0 && !slices.Contains(day.WarningsShown, threshold) {
				crossed = append(crossed, threshold)
			}
		}
		if len(crossed) > 0 {
			day.WarningsShown = append(day.WarningsShown, crossed...)
			day.Phase = model.PhaseWarned
			t.deps.Logger.Info("usage warning", "identity", id.ID, "remaining", remaining)
			t.notify(ctx, s, "Screen time", fmt.Sprintf("%s, you have %s of screen time left today.",
				id.DisplayName, humanize(remaining)))
		}
	}

	if remaining > 0 {
		return
	}

	switch day.Phase {
	case model.PhaseLocked:
		if !slices.Contains(day.LockedSessions, s.SessionID) {
			t.deps.Logger.Warn("new session while locked", "identity", id.ID, "session", s.SessionID)
			t.enforce(ctx, id, day, s)
		}
		return
	case model.PhaseGrace:
		day.GraceElapsed += credit
	default:
		if id.GracePeriod > 0 {
			start := now.UTC()
			day.Phase = model.PhaseGrace
			day.GraceStartedAt = &start
			t.deps.Logger.Info("budget spent, grace period started", "identity", id.ID, "grace", id.GracePeriod)
			t.notify(ctx, s, "Screen time is up", fmt.Sprintf("This computer will %s in %s.",
				t.opts.Action, humanize(id.GracePeriod)))
			return
		}
	}

	if day.GraceElapsed >= id.GracePeriod {
		lockedAt := now.UTC()
		day.Phase = model.PhaseLocked
		day.LockedAt = &lockedAt
		t.enforce(ctx, id, day, s)
	}
}

// enforce runs the configured action once for the session. The day stays
// Locked even when every mechanism fails.
func (t *Tracker) enforce(ctx context.Context, id model.Identity, day *model.UsageDay, s *curfew.Session) {
	day.LockedSessions = append(day.LockedSessions, s.SessionID)

	var outcome curfew.EnforcementOutcome
	_ = t.deps.Offload.Do(ctx, func() error {
		outcome = t.deps.Enforcer.Invoke(ctx, t.opts.Action, s)
		return nil
	})
	t.deps.Observer.Enforced(t.opts.Action, outcome.Mechanism, outcome.Succeeded())
	if !outcome.Succeeded() {
		t.deps.Logger.Error("enforcement failed, identity remains locked", "identity", id.ID,
			"action", t.opts.Action, "attempts", outcome.Attempts, "error", outcome.Err)
		return
	}
	t.deps.Logger.Info("enforcement carried out", "identity", id.ID, "action", t.opts.Action,
		"mechanism", outcome.Mechanism, "session", s.SessionID)
}

func (t *Tracker) notify(ctx context.Context, s *curfew.Session, title, message string) {
	if t.deps.Notifier == nil {
		return
	}
	err := t.deps.Offload.Do(ctx, func() error {
		return t.deps.Notifier.Notify(ctx, s, title, message)
	})
	if err != nil {
		t.deps.Logger.Warn("notification failed", "session", s.SessionID, "error", err)
	}
}

// dayFor returns the identity's day for date, creating it with a full budget.
func (t *Tracker) dayFor(identityID, date string, now time.Time) *model.UsageDay {
	// A day never goes back to an earlier date.
	if day, ok := t.state.Days[identityID]; ok && day.Date >= date {
		return day
	}
	local := now.In(t.opts.Location)
	day := &model.UsageDay{
		Date:       date,
		IdentityID: identityID,
		Budget:     Budget(t.identities[identityID], local),
		Phase:      model.PhaseIdle,
	}
	t.state.Days[identityID] = day
	return day
}

// flagTamper marks every identity's day for date, creating days that do
// not exist yet.
func (t *Tracker) flagTamper(now time.Time, date string, v Verdict) {
	t.deps.Logger.Warn("clock tampering detected, tick discarded", "reason", v.Reason,
		"delta", v.WallDelta, "offset", t.guard.Offset)
	t.deps.Observer.Tampered(v.Reason)
	event := model.TamperEvent{At: now.UTC(), Reason: v.Reason, Delta: v.WallDelta}
	for _, id := range slices.Sorted(maps.Keys(t.identities)) {
		day := t.dayFor(id, date, now)
		day.Tampered = true
		day.TamperEvents = append(day.TamperEvents, event)
	}
}

func humanize(d time.Duration) string {
	d = d.Round(time.Minute)
	switch {
	case d <= time.Minute:
		return "1 minute"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return d.String()
	}
}
