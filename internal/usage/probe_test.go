package usage

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"curfew/internal/curfew"
	"curfew/internal/testutil"
)

func TestParseLoginctlSession(t *testing.T) {
	now := time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)
	idleSince := now.Add(-7 * time.Minute).UnixMicro()

	tests := []struct {
		name      string
		out       string
		want      *curfew.Session
		wantIdle  time.Duration
		idleKnown bool
	}{
		{
			name:      "active, not idle",
			out:       "Name=alice\nUser=1000\nActive=yes\nRemote=no\nClass=user\nIdleHint=no\nIdleSinceHint=0\nDisplay=:0\n",
			want:      &curfew.Session{Account: "alice", SessionID: "2", UID: "1000", Display: ":0"},
			idleKnown: true,
		},
		{
			name:      "idle",
			out:       "Name=alice\nUser=1000\nActive=yes\nRemote=no\nClass=user\nIdleHint=yes\nIdleSinceHint=" + strconv.FormatInt(idleSince, 10) + "\n",
			want:      &curfew.Session{Account: "alice", SessionID: "2", UID: "1000"},
			wantIdle:  7 * time.Minute,
			idleKnown: true,
		},
		{
			name: "idle without timestamp",
			out:  "Name=alice\nActive=yes\nIdleHint=yes\nIdleSinceHint=0\n",
			want: &curfew.Session{Account: "alice", SessionID: "2"},
		},
		{name: "inactive", out: "Name=alice\nActive=no\n"},
		{name: "remote", out: "Name=alice\nActive=yes\nRemote=yes\n"},
		{name: "greeter", out: "Name=gdm\nActive=yes\nClass=greeter\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLoginctlSession("2", []byte(tt.out), now)
			if err != nil {
				t.Fatalf("parseLoginctlSession() error = %v", err)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("session = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("session = nil")
			}
			if got.Account != tt.want.Account || got.SessionID != tt.want.SessionID || got.UID != tt.want.UID || got.Display != tt.want.Display {
				t.Errorf("session = %+v, want %+v", got, tt.want)
			}
			if got.Idle != tt.wantIdle {
				t.Errorf("Idle = %v, want %v", got.Idle, tt.wantIdle)
			}
			if got.IdleKnown != tt.idleKnown {
				t.Errorf("IdleKnown = %v, want %v", got.IdleKnown, tt.idleKnown)
			}
		})
	}
}

func TestLoginctlProbe(t *testing.T) {
	runner := testutil.NewMockCommandRunner()
	runner.Output["loginctl show-seat"] = []byte("3\n")
	runner.Output["loginctl show-session"] = []byte("Name=alice\nActive=yes\nIdleHint=no\n")
	probe, err := NewProbe("linux", runner, testutil.FixedClock())
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}

	s, err := probe.ActiveSession(context.Background())
	if err != nil {
		t.Fatalf("ActiveSession() error = %v", err)
	}
	if s == nil || s.Account != "alice" || s.SessionID != "3" {
		t.Errorf("session = %+v, want alice on session 3", s)
	}

	runner.Output["loginctl show-seat"] = []byte("\n")
	s, err = probe.ActiveSession(context.Background())
	if err != nil || s != nil {
		t.Errorf("ActiveSession() = %+v, %v, want nil, nil", s, err)
	}

	runner.Fail["loginctl"] = errors.New("exit status 1")
	if _, err := probe.ActiveSession(context.Background()); err == nil {
		t.Error("ActiveSession() error = nil, want error")
	}
}

func TestConsoleProbe(t *testing.T) {
	runner := testutil.NewMockCommandRunner()
	runner.Output["stat"] = []byte("alice 501\n")
	runner.Output["ioreg"] = []byte(`    |   "HIDIdleTime" = 42000000000` + "\n")
	probe, err := NewProbe("darwin", runner, testutil.FixedClock())
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}

	s, err := probe.ActiveSession(context.Background())
	if err != nil {
		t.Fatalf("ActiveSession() error = %v", err)
	}
	if s == nil || s.Account != "alice" || s.UID != "501" {
		t.Fatalf("session = %+v, want alice (501)", s)
	}
	if !s.IdleKnown || s.Idle != 42*time.Second {
		t.Errorf("Idle = %v (known %v), want 42s", s.Idle, s.IdleKnown)
	}

	runner.Output["stat"] = []byte("root 0\n")
	if s, _ := probe.ActiveSession(context.Background()); s != nil {
		t.Errorf("session at login window = %+v, want nil", s)
	}
}

func TestParseQuser(t *testing.T) {
	out := " USERNAME              SESSIONNAME        ID  STATE   IDLE TIME  LOGON TIME\n" +
		" bob                                       2  Disc         1:05  3/9/2026 7:00 AM\n" +
		">Alice                 console             1  Active          5  3/9/2026 8:00 AM\n"

	s, err := parseQuser([]byte(out))
	if err != nil {
		t.Fatalf("parseQuser() error = %v", err)
	}
	if s == nil || s.Account != "alice" || s.SessionID != "1" {
		t.Fatalf("session = %+v, want alice on session 1", s)
	}
	if !s.IdleKnown || s.Idle != 5*time.Minute {
		t.Errorf("Idle = %v (known %v), want 5m", s.Idle, s.IdleKnown)
	}
}

func TestParseQuserIdle(t *testing.T) {
	tests := []struct {
		in     string
		want   time.Duration
		wantOK bool
	}{
		{".", 0, true},
		{"none", 0, true},
		{"5", 5 * time.Minute, true},
		{"1:05", 65 * time.Minute, true},
		{"1+02:03", 26*time.Hour + 3*time.Minute, true},
		{"x", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseQuserIdle(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseQuserIdle(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNewProbe_Unsupported(t *testing.T) {
	_, err := NewProbe("plan9", testutil.NewMockCommandRunner(), testutil.FixedClock())
	if !errors.Is(err, curfew.ErrUnsupported) {
		t.Errorf("NewProbe(plan9) error = %v, want ErrUnsupported", err)
	}
}
