package app

import (
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	now := time.Date(2024, 6, 15, 14, 30, 45, 0, time.FixedZone("CEST", 2*3600))

	tests := []struct {
		name    string
		command string
		actor   string
		wantID  string
	}{
		{
			name:    "daemon",
			command: "daemon",
			actor:   "root",
			wantID:  "daemon-20240615T123045Z",
		},
		{
			name:    "admin grant",
			command: "admin-grant",
			actor:   "mom",
			wantID:  "admin-grant-20240615T123045Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.command, now, tt.actor)

			if op.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", op.ID, tt.wantID)
			}
			if op.Command != tt.command {
				t.Errorf("Command = %q, want %q", op.Command, tt.command)
			}
			if op.Actor != tt.actor {
				t.Errorf("Actor = %q, want %q", op.Actor, tt.actor)
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
		})
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("status", time.Now(), "")
	op.Fail()
	if op.Status != "error" {
		t.Errorf("Status = %q, want %q", op.Status, "error")
	}
}

func TestInvokingUser(t *testing.T) {
	got := invokingUser(envOf(map[string]string{"SUDO_USER": "dad"}))
	if got != "dad" {
		t.Errorf("invokingUser() = %q, want %q", got, "dad")
	}
}
