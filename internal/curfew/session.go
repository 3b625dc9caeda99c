package curfew

import (
	"context"
	"time"
)

// Session is the interactively active OS session at the moment of a probe.
type Session struct {
	Account   string
	SessionID string
	UID       string
	// Idle is the time since the last keyboard or pointer input. IdleKnown
	// is false when the platform cannot report it.
	Idle      time.Duration
	IdleKnown bool
	Display   string
}

// SessionProbe reports the foreground session. It returns nil, nil when
// nobody is logged in at the console.
type SessionProbe interface {
	ActiveSession(ctx context.Context) (*Session, error)
}
