package admin

import (
	"errors"
	"testing"
	"time"

	"curfew/internal/auth"
	"curfew/internal/curfew"
	"curfew/internal/model"
	"curfew/internal/state"
	"curfew/internal/testutil"
)

func newTestService(t *testing.T) (*Service, curfew.HistoryDatabase) {
	t.Helper()
	clock := testutil.FixedClock()
	a := auth.NewAuthenticator(state.NewMemoryStore(), clock, auth.Options{
		MaxAttempts: 3,
		Lockout:     time.Minute,
		Params:      auth.Params{Memory: 1024, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32},
	}, curfew.NewNopLogger())
	if err := a.SetPassword(curfew.AssumeElevation("test"), "parent-pass"); err != nil {
		t.Fatalf("SetPassword() error = %v", err)
	}
	db := testutil.NewTestDatabase(t)
	s := NewService(a, db, []model.Identity{{ID: "alice"}}, clock, testutil.NewStubIDGenerator(), curfew.NewNopLogger(), "mom")
	return s, db
}

func TestService_Operations(t *testing.T) {
	tests := []struct {
		name     string
		call     func(s *Service) (*model.AdminOverride, error)
		kind     model.OverrideKind
		identity string
		amount   time.Duration
	}{
		{"grant", func(s *Service) (*model.AdminOverride, error) {
			return s.GrantExtension("parent-pass", "alice", 30*time.Minute, "homework")
		}, model.OverrideExtension, "alice", 30 * time.Minute},
		{"reset", func(s *Service) (*model.AdminOverride, error) {
			return s.ResetToday("parent-pass", "alice", "")
		}, model.OverrideReset, "alice", 0},
		{"unlock", func(s *Service) (*model.AdminOverride, error) {
			return s.Unlock("parent-pass", "alice", "")
		}, model.OverrideUnlock, "alice", 0},
		{"pause", func(s *Service) (*model.AdminOverride, error) {
			return s.Pause("parent-pass", "holiday")
		}, model.OverridePause, "", 0},
		{"resume", func(s *Service) (*model.AdminOverride, error) {
			return s.Resume("parent-pass", "")
		}, model.OverrideResume, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, db := newTestService(t)
			o, err := tt.call(s)
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if o.ID != "id-1" || o.Actor != "mom" {
				t.Errorf("override = %+v, want id-1 by mom", o)
			}

			pending, err := db.PendingOverrides()
			if err != nil {
				t.Fatalf("PendingOverrides() error = %v", err)
			}
			if len(pending) != 1 {
				t.Fatalf("len(pending) = %d, want 1", len(pending))
			}
			got := pending[0]
			if got.Kind != tt.kind || got.IdentityID != tt.identity || got.Amount != tt.amount {
				t.Errorf("queued = %+v, want %s for %q amount %v", got, tt.kind, tt.identity, tt.amount)
			}
		})
	}
}

func TestService_WrongPassword(t *testing.T) {
	s, db := newTestService(t)

	_, err := s.GrantExtension("guess", "alice", time.Hour, "")
	if !errors.Is(err, curfew.ErrAuthFailed) {
		t.Errorf("error = %v, want ErrAuthFailed", err)
	}
	pending, _ := db.PendingOverrides()
	if len(pending) != 0 {
		t.Errorf("len(pending) = %d, want 0", len(pending))
	}
}

func TestService_LockedOut(t *testing.T) {
	s, _ := newTestService(t)
	for range 3 {
		s.Pause("guess", "")
	}
	if _, err := s.Pause("parent-pass", ""); !errors.Is(err, curfew.ErrLockedOut) {
		t.Errorf("error = %v, want ErrLockedOut", err)
	}
}

func TestService_RejectsBadArguments(t *testing.T) {
	s, _ := newTestService(t)

	if _, err := s.GrantExtension("parent-pass", "bob", time.Hour, ""); !errors.Is(err, errUnknownIdentity) {
		t.Errorf("unknown identity error = %v, want errUnknownIdentity", err)
	}
	for _, amount := range []time.Duration{0, -time.Minute, 25 * time.Hour} {
		if _, err := s.GrantExtension("parent-pass", "alice", amount, ""); err == nil {
			t.Errorf("GrantExtension(%v) error = nil, want error", amount)
		}
	}
}

func TestService_History(t *testing.T) {
	s, _ := newTestService(t)
	s.GrantExtension("parent-pass", "alice", time.Hour, "")
	s.Unlock("parent-pass", "alice", "")

	history, err := s.History("alice", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Errorf("len(history) = %d, want 2", len(history))
	}
}
