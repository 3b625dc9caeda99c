// Package auth verifies the installation's admin password.
//
// The password is stored as an argon2id hash in the admin-credential
// document. Consecutive failures are counted there too, so the lockout
// holds across the separate CLI invocations that call Verify.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// MinPasswordLength is the shortest password SetPassword accepts.
const MinPasswordLength = 8

// Options configures an Authenticator.
type Options struct {
	MaxAttempts int
	Lockout     time.Duration
	Params      Params // zero means DefaultParams
}

// Authenticator checks admin passwords against the stored credential.
type Authenticator struct {
	store  curfew.StateStore
	clock  curfew.Clock
	opts   Options
	logger curfew.Logger

	// OnFailure is called after every rejected attempt, e.g. for metrics.
	OnFailure func(lockedOut bool)

	mu sync.Mutex
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(store curfew.StateStore, clock curfew.Clock, opts Options, logger curfew.Logger) *Authenticator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Lockout <= 0 {
		opts.Lockout = 15 * time.Minute
	}
	if opts.Params == (Params{}) {
		opts.Params = DefaultParams
	}
	return &Authenticator{store: store, clock: clock, opts: opts, logger: logger}
}

// SetPassword replaces the admin password and clears any lockout.
func (a *Authenticator) SetPassword(elev curfew.Elevation, password string) error {
	if err := elev.Require("set admin password"); err != nil {
		return err
	}
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := Hash(password, a.opts.Params)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	cred := &model.AdminCredential{Hash: hash, UpdatedAt: a.clock.Now().UTC()}
	if err := a.store.SaveAdminCredential(cred); err != nil {
		return fmt.Errorf("saving admin credential: %w", err)
	}
	a.logger.Info("admin password set")
	return nil
}

// HasPassword reports whether an admin password has been set.
func (a *Authenticator) HasPassword() (bool, error) {
	cred, err := a.store.LoadAdminCredential()
	if err != nil {
		return false, err
	}
	return cred != nil, nil
}

// Verify reports whether password is the admin password. It is false for
// every attempt while a lockout is in force.
func (a *Authenticator) Verify(password string) bool {
	return a.Authenticate(password) == nil
}

// Authenticate checks password and returns nil on success, an error
// wrapping ErrLockedOut during a lockout and ErrAuthFailed otherwise. A
// missing or corrupt credential fails closed.
func (a *Authenticator) Authenticate(password string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cred, err := a.store.LoadAdminCredential()
	if err != nil {
		a.logger.Error("admin credential unreadable", "error", err)
		return curfew.NewError(curfew.ErrAuthFailed, "authenticate", err)
	}
	if cred == nil {
		return curfew.NewError(curfew.ErrAuthFailed, "authenticate", errors.New("no admin password set"))
	}

	now := a.clock.Now()
	if now.Before(cred.LockoutUntil) {
		a.failed(true)
		return curfew.NewError(curfew.ErrLockedOut, "authenticate",
			fmt.Errorf("retry after %s", cred.LockoutUntil.Format(time.RFC3339)))
	}

	ok, err := Compare(cred.Hash, password)
	if err != nil {
		a.logger.Error("admin credential hash unusable", "error", err)
		return curfew.NewError(curfew.ErrAuthFailed, "authenticate", err)
	}
	if ok {
		if cred.FailedAttempts > 0 || !cred.LockoutUntil.IsZero() {
			cred.FailedAttempts = 0
			cred.LockoutUntil = time.Time{}
			if err := a.store.SaveAdminCredential(cred); err != nil {
				a.logger.Warn("resetting failed attempts failed", "error", err)
			}
		}
		return nil
	}

	cred.FailedAttempts++
	lockedOut := cred.FailedAttempts >= a.opts.MaxAttempts
	if lockedOut {
		cred.LockoutUntil = now.Add(a.opts.Lockout).UTC()
		cred.FailedAttempts = 0
		a.logger.Warn("admin authentication locked out", "until", cred.LockoutUntil)
	} else {
		a.logger.Warn("admin authentication failed", "attempts", cred.FailedAttempts)
	}
	if err := a.store.SaveAdminCredential(cred); err != nil {
		a.logger.Error("recording failed attempt failed", "error", err)
	}
	a.failed(lockedOut)
	if lockedOut {
		return curfew.NewError(curfew.ErrLockedOut, "authenticate", nil)
	}
	return curfew.NewError(curfew.ErrAuthFailed, "authenticate", nil)
}

func (a *Authenticator) failed(lockedOut bool) {
	if a.OnFailure != nil {
		a.OnFailure(lockedOut)
	}
}
