package curfew

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by a component wraps exactly one of
// these so the scheduler can decide between backoff and waiting for the
// next regular period.
var (
	ErrNetworkTransient = errors.New("transient network failure")
	ErrNetworkPermanent = errors.New("permanent network failure")
	ErrDocumentInvalid  = errors.New("invalid policy document")
	ErrPlatformWrite    = errors.New("platform write failed")
	ErrEnforcement      = errors.New("enforcement action failed")
	ErrTamperDetected   = errors.New("clock tampering detected")
	ErrAuthFailed       = errors.New("admin authentication failed")
	ErrLockedOut        = errors.New("admin authentication locked out")
	ErrStoreCorrupt     = errors.New("state document corrupt")
	ErrNotElevated      = errors.New("process is not elevated")
	ErrUnsupported      = errors.New("not supported on this platform")
)

// Error annotates a kind with the operation and context that produced it.
type Error struct {
	Kind error  // one of the Err* sentinels above
	Op   string // e.g. "fetch", "replace chromium"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Is reports a match against the kind so errors.Is(err, ErrNetworkTransient) works.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetworkTransient) || errors.Is(err, ErrPlatformWrite)
}

// IsPermanent reports whether err must wait for the regular period instead
// of being retried early.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNetworkPermanent) || errors.Is(err, ErrDocumentInvalid)
}
