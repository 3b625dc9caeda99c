package enforce

import (
	"context"
	"fmt"
	"strings"

	"curfew/internal/curfew"
)

// CommandNotifier shows messages in the user's session with the
// platform's notification command. The daemon runs as root, so each
// command is started on behalf of the session's user.
type CommandNotifier struct {
	goos   string
	runner curfew.CommandRunner
}

var _ curfew.Notifier = (*CommandNotifier)(nil)

func NewNotifier(goos string, runner curfew.CommandRunner) *CommandNotifier {
	return &CommandNotifier{goos: goos, runner: runner}
}

func (n *CommandNotifier) Notify(ctx context.Context, s *curfew.Session, title, message string) error {
	argv := notifyCommand(n.goos, s, title, message)
	if argv == nil {
		return curfew.NewError(curfew.ErrUnsupported, "notify", fmt.Errorf("cannot reach session on %s", n.goos))
	}
	_, err := n.runner.Run(ctx, argv[0], argv[1:]...)
	return err
}

func notifyCommand(goos string, s *curfew.Session, title, message string) []string {
	if s == nil {
		return nil
	}
	switch goos {
	case "linux":
		if s.Account == "" || s.UID == "" {
			return nil
		}
		return []string{"runuser", "-u", s.Account, "--",
			"env", "DBUS_SESSION_BUS_ADDRESS=unix:path=/run/user/" + s.UID + "/bus",
			"notify-send", "--urgency=critical", "--app-name=curfew", title, message}
	case "darwin":
		if s.UID == "" {
			return nil
		}
		script := fmt.Sprintf("display notification %s with title %s", appleString(message), appleString(title))
		return []string{"launchctl", "asuser", s.UID, "osascript", "-e", script}
	case "windows":
		if s.SessionID == "" {
			return nil
		}
		return []string{"msg", s.SessionID, "/TIME:60", title + ": " + message}
	}
	return nil
}

// appleString quotes s as an AppleScript string literal.
func appleString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
