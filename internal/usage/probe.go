package usage

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"curfew/internal/curfew"
)

// NewProbe returns the session probe for goos.
func NewProbe(goos string, runner curfew.CommandRunner, clock curfew.Clock) (curfew.SessionProbe, error) {
	switch goos {
	case "linux":
		return &LoginctlProbe{runner: runner, clock: clock}, nil
	case "darwin":
		return &ConsoleProbe{runner: runner}, nil
	case "windows":
		return &QuserProbe{runner: runner}, nil
	default:
		return nil, curfew.NewError(curfew.ErrUnsupported, "session probe", fmt.Errorf("no probe for %s", goos))
	}
}

// LoginctlProbe asks systemd-logind for seat0's active session.
type LoginctlProbe struct {
	runner curfew.CommandRunner
	clock  curfew.Clock
}

func (p *LoginctlProbe) ActiveSession(ctx context.Context) (*curfew.Session, error) {
	out, err := p.runner.Run(ctx, "loginctl", "show-seat", "seat0", "--property=ActiveSession", "--value")
	if err != nil {
		return nil, fmt.Errorf("loginctl show-seat: %w", err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return nil, nil
	}
	out, err = p.runner.Run(ctx, "loginctl", "show-session", id,
		"--property=Name", "--property=User", "--property=Active", "--property=Remote",
		"--property=Class", "--property=IdleHint", "--property=IdleSinceHint", "--property=Display")
	if err != nil {
		return nil, fmt.Errorf("loginctl show-session %s: %w", id, err)
	}
	return parseLoginctlSession(id, out, p.clock.Now())
}

func parseLoginctlSession(id string, out []byte, now time.Time) (*curfew.Session, error) {
	props := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if k, v, ok := strings.Cut(sc.Text(), "="); ok {
			props[k] = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if props["Active"] != "yes" || props["Remote"] == "yes" || props["Class"] == "greeter" || props["Name"] == "" {
		return nil, nil
	}

	s := &curfew.Session{
		Account:   props["Name"],
		SessionID: id,
		UID:       props["User"],
		Display:   props["Display"],
		IdleKnown: true,
	}
	if props["IdleHint"] == "yes" {
		since, err := strconv.ParseInt(props["IdleSinceHint"], 10, 64)
		if err == nil && since > 0 {
			s.Idle = max(now.Sub(time.UnixMicro(since)), 0)
		} else {
			s.IdleKnown = false
		}
	}
	return s, nil
}

// ConsoleProbe reads the macOS console owner and the HID idle time.
type ConsoleProbe struct {
	runner curfew.CommandRunner
}

var hidIdle = regexp.MustCompile(`"HIDIdleTime"\s*=\s*(\d+)`)

func (p *ConsoleProbe) ActiveSession(ctx context.Context) (*curfew.Session, error) {
	out, err := p.runner.Run(ctx, "stat", "-f", "%Su %u", "/dev/console")
	if err != nil {
		return nil, fmt.Errorf("stat /dev/console: %w", err)
	}
	account, uid, _ := strings.Cut(strings.TrimSpace(string(out)), " ")
	if account == "" || account == "root" || account == "loginwindow" {
		return nil, nil
	}
	s := &curfew.Session{Account: account, UID: uid, SessionID: "console-" + uid}

	out, err = p.runner.Run(ctx, "ioreg", "-c", "IOHIDSystem", "-d", "4", "-S")
	if err == nil {
		s.Idle, s.IdleKnown = parseHIDIdle(out)
	}
	return s, nil
}

func parseHIDIdle(out []byte) (time.Duration, bool) {
	m := hidIdle.FindSubmatch(out)
	if m == nil {
		return 0, false
	}
	ns, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(ns), true
}

// QuserProbe parses quser output for the active console session.
type QuserProbe struct {
	runner curfew.CommandRunner
}

func (p *QuserProbe) ActiveSession(ctx context.Context) (*curfew.Session, error) {
	out, err := p.runner.Run(ctx, "quser")
	if err != nil && len(out) == 0 {
		// quser exits 1 with "No User exists for *" when nobody is logged on.
		return nil, nil
	}
	return parseQuser(out)
}

// parseQuser reads lines like
//
//	 USERNAME  SESSIONNAME  ID  STATE   IDLE TIME  LOGON TIME
//	>alice     console       1  Active       none  3/9/2026 8:00 AM
func parseQuser(out []byte) (*curfew.Session, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), ">"))
		// Disconnected sessions have no SESSIONNAME column.
		if len(fields) < 5 || fields[1] != "console" || !strings.EqualFold(fields[3], "Active") {
			continue
		}
		idle, ok := parseQuserIdle(fields[4])
		return &curfew.Session{
			Account:   strings.ToLower(fields[0]),
			SessionID: fields[2],
			Idle:      idle,
			IdleKnown: ok,
		}, nil
	}
	return nil, sc.Err()
}

// parseQuserIdle handles ".", "none", minutes, "h:mm" and "d+h:mm".
func parseQuserIdle(s string) (time.Duration, bool) {
	if s == "." || strings.EqualFold(s, "none") {
		return 0, true
	}
	var days, hours, minutes int
	rest := s
	if d, r, ok := strings.Cut(rest, "+"); ok {
		n, err := strconv.Atoi(d)
		if err != nil {
			return 0, false
		}
		days, rest = n, r
	}
	if h, m, ok := strings.Cut(rest, ":"); ok {
		hn, err1 := strconv.Atoi(h)
		mn, err2 := strconv.Atoi(m)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		hours, minutes = hn, mn
	} else {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return 0, false
		}
		minutes = n
	}
	return time.Duration(days)*24*time.Hour + time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, true
}
