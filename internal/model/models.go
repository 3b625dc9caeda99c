package model

import "time"

// Schema versions of the persisted documents. Bump when a field changes meaning.
const (
	PolicyStateSchemaVersion  = 1
	UsageStateSchemaVersion   = 1
	UsageHistorySchemaVersion = 1
)

// PolicyDocument is the declarative, remotely fetched policy. It is keyed by
// target (a managed application such as "chromium" or "firefox") and is
// immutable once parsed; its identity is the hash of its canonical form.
type PolicyDocument struct {
	Version int                     `json:"version" yaml:"version" validate:"gte=1"`
	Targets map[string]TargetPolicy `json:"targets" yaml:"targets" validate:"required,dive,keys,min=1,max=64,endkeys"`
}

// TargetPolicy holds the rules for one target.
type TargetPolicy struct {
	ForceInstall []string        `json:"forceInstall,omitempty" yaml:"forceInstall" validate:"dive,required,max=512"`
	Settings     map[string]any  `json:"settings,omitempty" yaml:"settings"`
	Privacy      map[string]bool `json:"privacy,omitempty" yaml:"privacy"`
}

// TargetSettings is the per-target structure handed to a platform writer:
// the complete desired set of policy keys plus the inputs they came from.
type TargetSettings struct {
	Values      map[string]any
	Identifiers []string
	Toggles     map[string]bool
}

// TargetSummary describes what a writer put in place.
type TargetSummary struct {
	AppliedIdentifiers []string        `json:"appliedIdentifiers"`
	Toggles            map[string]bool `json:"toggles,omitempty"`
	Keys               []string        `json:"keys,omitempty"`
	Location           string          `json:"location,omitempty"`
	// Digest is the hash of the bytes written for file-backed stores; the
	// drift watcher compares against it. Empty for registry stores.
	Digest string `json:"digest,omitempty"`
}

// AppliedPolicyRecord is the last successful apply for one target.
type AppliedPolicyRecord struct {
	Target       string        `json:"target"`
	ContentHash  string        `json:"contentHash"`
	SettingsHash string        `json:"settingsHash"`
	AppliedAt    time.Time     `json:"appliedAt"`
	Summary      TargetSummary `json:"summary"`
}

// PolicyState is the policy-state document.
type PolicyState struct {
	SchemaVersion int `json:"schemaVersion"`
	// ContentHash and AppliedAt describe the last document every target converged to.
	ContentHash string                         `json:"contentHash,omitempty"`
	AppliedAt   *time.Time                     `json:"appliedAt,omitempty"`
	Targets     map[string]AppliedPolicyRecord `json:"targets"`
}

// NewPolicyState returns an empty policy-state document.
func NewPolicyState() *PolicyState {
	return &PolicyState{
		SchemaVersion: PolicyStateSchemaVersion,
		Targets:       make(map[string]AppliedPolicyRecord),
	}
}

// FetchCacheToken is the fetcher's conditional-request validator.
type FetchCacheToken struct {
	Source        string    `json:"source"`
	Validator     string    `json:"validator,omitempty"`
	LastCheckedAt time.Time `json:"lastCheckedAt"`
}

// Identity is a tracked person. Aliases are the OS account names that map to it.
type Identity struct {
	ID            string
	DisplayName   string
	Aliases       []string
	WeekdayBudget time.Duration
	WeekendBudget time.Duration
	// Custom budgets keyed by ISO date ("2026-12-25") or lowercase weekday ("friday").
	Custom      map[string]time.Duration
	Warnings    []time.Duration // remaining-time thresholds
	GracePeriod time.Duration
}

// UsagePhase is the per-identity, per-day state.
type UsagePhase string

const (
	PhaseIdle   UsagePhase = "idle"
	PhaseActive UsagePhase = "active"
	PhaseWarned UsagePhase = "warned"
	PhaseGrace  UsagePhase = "grace"
	PhaseLocked UsagePhase = "locked"
)

// SessionSpan is one observed OS session contributing to a day.
type SessionSpan struct {
	ID           string    `json:"id"`
	Account      string    `json:"account"`
	SessionID    string    `json:"sessionId"`
	Start        time.Time `json:"start"`
	LastActivity time.Time `json:"lastActivity"`
}

// TamperEvent records a discarded tick.
type TamperEvent struct {
	At     time.Time     `json:"at"`
	Reason string        `json:"reason"`
	Delta  time.Duration `json:"delta"`
}

// UsageDay is one identity's accounting for one calendar day. Durations are
// serialized in nanoseconds.
type UsageDay struct {
	Date           string          `json:"date"`
	IdentityID     string          `json:"identityId"`
	Budget         time.Duration   `json:"budget"`
	Accumulated    time.Duration   `json:"accumulated"`
	Extension      time.Duration   `json:"extension"`
	Phase          UsagePhase      `json:"phase"`
	WarningsShown  []time.Duration `json:"warningsShown"`
	GraceStartedAt *time.Time      `json:"graceStartedAt,omitempty"`
	GraceElapsed   time.Duration   `json:"graceElapsed"`
	LockedAt       *time.Time      `json:"lockedAt,omitempty"`
	LockedSessions []string        `json:"lockedSessions,omitempty"`
	Unlocked       bool            `json:"unlocked"`
	Sessions       []SessionSpan   `json:"sessions"`
	Tampered       bool            `json:"tampered"`
	TamperEvents   []TamperEvent   `json:"tamperEvents,omitempty"`
	Overrides      []AdminOverride `json:"overrides,omitempty"`
}

// Remaining is the unused budget including extensions. It may be negative.
func (d *UsageDay) Remaining() time.Duration {
	return d.Budget + d.Extension - d.Accumulated
}

// ActiveSession points at the session credited by the latest tick, so a
// restarted daemon can continue the same span.
type ActiveSession struct {
	IdentityID   string    `json:"identityId"`
	Account      string    `json:"account"`
	SessionID    string    `json:"sessionId"`
	SessionStart time.Time `json:"sessionStart"`
	LastActivity time.Time `json:"lastActivity"`
}

// UsageState is the usage-state document.
type UsageState struct {
	SchemaVersion int                  `json:"schemaVersion"`
	Days          map[string]*UsageDay `json:"days"` // by identity ID
	ActiveSession *ActiveSession       `json:"activeSession,omitempty"`
	Paused        bool                 `json:"paused"`
	LastTickWall  *time.Time           `json:"lastTickWall,omitempty"`
	// ClockOffset is how far the wall clock has been moved away from
	// trusted time by ticks judged as tampering. Day boundaries use
	// wall time minus ClockOffset.
	ClockOffset   time.Duration        `json:"clockOffset,omitempty"`
}

// NewUsageState returns an empty usage-state document.
func NewUsageState() *UsageState {
	return &UsageState{
		SchemaVersion: UsageStateSchemaVersion,
		Days:          make(map[string]*UsageDay),
	}
}

// HistoryEntry is a sealed UsageDay summary.
type HistoryEntry struct {
	IdentityID    string        `json:"identityId"`
	Date          string        `json:"date"`
	Budget        time.Duration `json:"budget"`
	Accumulated   time.Duration `json:"accumulated"`
	Extension     time.Duration `json:"extension"`
	Sessions      int           `json:"sessions"`
	WarningsShown int           `json:"warningsShown"`
	LockedAt      *time.Time    `json:"lockedAt,omitempty"`
	Tampered      bool          `json:"tampered"`
	Overrides     int           `json:"overrides"`
	SealedAt      time.Time     `json:"sealedAt"`
}

// UsageHistory is the usage-history document exported for UI consumers.
type UsageHistory struct {
	SchemaVersion int             `json:"schemaVersion"`
	WindowDays    int             `json:"windowDays"`
	ExportedAt    time.Time       `json:"exportedAt"`
	Entries       []*HistoryEntry `json:"entries"`
}

// OverrideKind enumerates admin overrides.
type OverrideKind string

const (
	OverrideExtension OverrideKind = "extension"
	OverrideReset     OverrideKind = "reset"
	OverridePause     OverrideKind = "pause"
	OverrideResume    OverrideKind = "resume"
	OverrideUnlock    OverrideKind = "unlock"
)

// AdminOverride is an append-only audit entry. IdentityID is empty for the
// global pause and resume overrides.
type AdminOverride struct {
	ID         string        `json:"id"`
	IdentityID string        `json:"identityId,omitempty"`
	Kind       OverrideKind  `json:"kind"`
	Amount     time.Duration `json:"amount,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Actor      string        `json:"actor"`
	Reason     string        `json:"reason,omitempty"`
	AppliedAt  *time.Time    `json:"appliedAt,omitempty"`
}

// AdminCredential is the installation's admin password state.
type AdminCredential struct {
	Hash           string    `json:"hash"` // PHC-encoded argon2id
	FailedAttempts int       `json:"failedAttempts"`
	LockoutUntil   time.Time `json:"lockoutUntil"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// EnforcementAction is what happens when a budget is exhausted.
type EnforcementAction string

const (
	ActionLock     EnforcementAction = "lock"
	ActionLogout   EnforcementAction = "logout"
	ActionShutdown EnforcementAction = "shutdown"
)
