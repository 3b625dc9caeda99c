package curfew

import (
	"context"

	"curfew/internal/model"
)

// CommandRunner executes an external program and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Notifier shows a message inside the given session. Best effort.
type Notifier interface {
	Notify(ctx context.Context, session *Session, title, message string) error
}

// EnforcementOutcome reports which mechanism, if any, carried out an action.
type EnforcementOutcome struct {
	Action    model.EnforcementAction
	Mechanism string // empty when every mechanism failed
	Attempts  int
	Err       error // wraps ErrEnforcement when every mechanism failed
}

// Succeeded reports whether some mechanism worked.
func (o EnforcementOutcome) Succeeded() bool { return o.Err == nil && o.Mechanism != "" }

// Enforcer carries out lock, logout and shutdown actions.
type Enforcer interface {
	Invoke(ctx context.Context, action model.EnforcementAction, session *Session) EnforcementOutcome
}

// Offloader runs blocking calls away from the calling loop's goroutine.
// Do waits for fn to finish even when ctx is cancelled after fn started,
// so a write is never abandoned halfway.
type Offloader interface {
	Do(ctx context.Context, fn func() error) error
}
