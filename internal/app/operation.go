package app

import (
	"os"
	"os/user"
	"time"
)

// Operation tracks one CLI invocation. Its ID tags every log line the
// invocation writes; Actor is recorded on admin overrides.
type Operation struct {
	ID      string
	Command string
	Actor   string
	Status  string // "success" or "error"
}

// NewOperation creates an operation for command started at now.
func NewOperation(command string, now time.Time, actor string) *Operation {
	return &Operation{
		ID:      command + "-" + now.UTC().Format("20060102T150405Z"),
		Command: command,
		Actor:   actor,
		Status:  "success",
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}

// invokingUser names the human behind the process. Under sudo that is
// SUDO_USER rather than root.
func invokingUser(getenv func(string) string) string {
	if u := getenv("SUDO_USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return getenv("USER")
}

func currentActor() string {
	return invokingUser(os.Getenv)
}
