// Package enforce carries out lock, logout and shutdown actions through
// ordered chains of platform mechanisms, and delivers warnings to the
// user's session.
package enforce

import (
	"context"
	"errors"
	"fmt"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// Mechanism is one way to carry out an action. Command returns nil when
// the mechanism cannot address the session, e.g. without a UID.
type Mechanism struct {
	Name    string
	Command func(s *curfew.Session) []string
}

// Chains lists, per operating system and action, the mechanisms to try in
// order. The first that succeeds wins.
var Chains = map[string]map[model.EnforcementAction][]Mechanism{
	"linux": {
		model.ActionLock: {
			{"loginctl-lock-session", withSession(func(s *curfew.Session) []string {
				return []string{"loginctl", "lock-session", s.SessionID}
			})},
			{"loginctl-lock-sessions", always("loginctl", "lock-sessions")},
			{"loginctl-terminate-session", withSession(func(s *curfew.Session) []string {
				return []string{"loginctl", "terminate-session", s.SessionID}
			})},
		},
		model.ActionLogout: {
			{"loginctl-terminate-session", withSession(func(s *curfew.Session) []string {
				return []string{"loginctl", "terminate-session", s.SessionID}
			})},
			{"loginctl-terminate-user", withAccount(func(s *curfew.Session) []string {
				return []string{"loginctl", "terminate-user", s.Account}
			})},
			{"pkill", withAccount(func(s *curfew.Session) []string {
				return []string{"pkill", "-KILL", "-u", s.Account}
			})},
		},
		model.ActionShutdown: {
			{"systemctl-poweroff", always("systemctl", "poweroff")},
			{"shutdown", always("shutdown", "-h", "now")},
		},
	},
	"darwin": {
		model.ActionLock: {
			{"cgsession-suspend", withUID(func(s *curfew.Session) []string {
				return []string{"launchctl", "asuser", s.UID,
					"/System/Library/CoreServices/Menu Extras/User.menu/Contents/Resources/CGSession", "-suspend"}
			})},
			{"pmset-displaysleep", always("pmset", "displaysleepnow")},
		},
		model.ActionLogout: {
			{"launchctl-bootout", withUID(func(s *curfew.Session) []string {
				return []string{"launchctl", "bootout", "gui/" + s.UID}
			})},
			{"osascript-logout", withUID(func(s *curfew.Session) []string {
				return []string{"launchctl", "asuser", s.UID, "osascript", "-e",
					`tell application "System Events" to log out`}
			})},
		},
		model.ActionShutdown: {
			{"shutdown", always("shutdown", "-h", "now")},
			{"osascript-shutdown", always("osascript", "-e", `tell application "System Events" to shut down`)},
		},
	},
	"windows": {
		model.ActionLock: {
			{"tsdiscon", withSession(func(s *curfew.Session) []string {
				return []string{"tsdiscon", s.SessionID}
			})},
			{"logoff", withSession(func(s *curfew.Session) []string {
				return []string{"logoff", s.SessionID}
			})},
		},
		model.ActionLogout: {
			{"logoff", withSession(func(s *curfew.Session) []string {
				return []string{"logoff", s.SessionID}
			})},
			{"shutdown-logoff", always("shutdown", "/l", "/f")},
		},
		model.ActionShutdown: {
			{"shutdown", always("shutdown", "/s", "/t", "0")},
			{"shutdown-force", always("shutdown", "/s", "/f", "/t", "0")},
		},
	},
}

func always(argv ...string) func(*curfew.Session) []string {
	return func(*curfew.Session) []string { return argv }
}

func withSession(f func(*curfew.Session) []string) func(*curfew.Session) []string {
	return func(s *curfew.Session) []string {
		if s == nil || s.SessionID == "" {
			return nil
		}
		return f(s)
	}
}

func withAccount(f func(*curfew.Session) []string) func(*curfew.Session) []string {
	return func(s *curfew.Session) []string {
		if s == nil || s.Account == "" {
			return nil
		}
		return f(s)
	}
}

func withUID(f func(*curfew.Session) []string) func(*curfew.Session) []string {
	return func(s *curfew.Session) []string {
		if s == nil || s.UID == "" {
			return nil
		}
		return f(s)
	}
}

var errNotApplicable = errors.New("mechanism cannot address this session")

// Executor runs the chain for the configured operating system.
type Executor struct {
	chains map[model.EnforcementAction][]Mechanism
	runner curfew.CommandRunner
	logger curfew.Logger
}

var _ curfew.Enforcer = (*Executor)(nil)

// NewExecutor returns an executor for goos.
func NewExecutor(goos string, runner curfew.CommandRunner, logger curfew.Logger) (*Executor, error) {
	chains, ok := Chains[goos]
	if !ok {
		return nil, curfew.NewError(curfew.ErrUnsupported, "enforce", fmt.Errorf("no mechanisms for %s", goos))
	}
	return &Executor{chains: chains, runner: runner, logger: logger}, nil
}

// Invoke tries each mechanism for action until one succeeds.
func (e *Executor) Invoke(ctx context.Context, action model.EnforcementAction, s *curfew.Session) curfew.EnforcementOutcome {
	outcome := curfew.EnforcementOutcome{Action: action}
	chain := e.chains[action]
	if len(chain) == 0 {
		outcome.Err = curfew.NewError(curfew.ErrEnforcement, string(action), fmt.Errorf("unknown action %q", action))
		return outcome
	}

	var errs []error
	for _, m := range chain {
		argv := m.Command(s)
		if argv == nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name, errNotApplicable))
			continue
		}
		outcome.Attempts++
		if _, err := e.runner.Run(ctx, argv[0], argv[1:]...); err != nil {
			e.logger.Warn("enforcement mechanism failed", "action", action, "mechanism", m.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", m.Name, err))
			continue
		}
		outcome.Mechanism = m.Name
		return outcome
	}
	outcome.Err = curfew.NewError(curfew.ErrEnforcement, string(action), errors.Join(errs...))
	return outcome
}
