// Package admin holds the authenticated override entry points. Each
// operation verifies the admin password and appends an override to the
// queue that the usage tracker drains on its next tick.
package admin

import (
	"errors"
	"fmt"
	"time"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// Verifier checks the admin password.
type Verifier interface {
	Authenticate(password string) error
}

// Service submits admin overrides.
type Service struct {
	auth       Verifier
	queue      curfew.HistoryDatabase
	identities map[string]bool
	clock      curfew.Clock
	ids        curfew.IDGenerator
	logger     curfew.Logger
	actor      string
}

// NewService creates a Service. actor names the human behind the calls in
// the audit trail, e.g. the invoking OS user.
func NewService(auth Verifier, queue curfew.HistoryDatabase, identities []model.Identity,
	clock curfew.Clock, ids curfew.IDGenerator, logger curfew.Logger, actor string) *Service {
	known := make(map[string]bool, len(identities))
	for _, id := range identities {
		known[id.ID] = true
	}
	if actor == "" {
		actor = "admin"
	}
	return &Service{auth: auth, queue: queue, identities: known, clock: clock, ids: ids, logger: logger, actor: actor}
}

// MaxExtension bounds a single extension grant.
const MaxExtension = 24 * time.Hour

var errUnknownIdentity = errors.New("unknown identity")

// GrantExtension adds amount to the identity's allowance for today.
func (s *Service) GrantExtension(password, identityID string, amount time.Duration, reason string) (*model.AdminOverride, error) {
	if amount <= 0 || amount > MaxExtension {
		return nil, fmt.Errorf("extension must be between 0 and %v, got %v", MaxExtension, amount)
	}
	return s.submit(password, model.OverrideExtension, identityID, amount, reason)
}

// ResetToday clears the identity's usage for today.
func (s *Service) ResetToday(password, identityID, reason string) (*model.AdminOverride, error) {
	return s.submit(password, model.OverrideReset, identityID, 0, reason)
}

// Unlock lifts the identity's lock and suspends enforcement for the rest
// of the day.
func (s *Service) Unlock(password, identityID, reason string) (*model.AdminOverride, error) {
	return s.submit(password, model.OverrideUnlock, identityID, 0, reason)
}

// Pause stops usage tracking for everyone until Resume.
func (s *Service) Pause(password, reason string) (*model.AdminOverride, error) {
	return s.submit(password, model.OverridePause, "", 0, reason)
}

// Resume restarts usage tracking.
func (s *Service) Resume(password, reason string) (*model.AdminOverride, error) {
	return s.submit(password, model.OverrideResume, "", 0, reason)
}

// History returns the identity's override audit trail, newest first.
func (s *Service) History(identityID string, limit int) ([]*model.AdminOverride, error) {
	return s.queue.ListOverrides(identityID, limit)
}

func (s *Service) submit(password string, kind model.OverrideKind, identityID string, amount time.Duration, reason string) (*model.AdminOverride, error) {
	if identityID != "" && !s.identities[identityID] {
		return nil, fmt.Errorf("%s %q: %w", kind, identityID, errUnknownIdentity)
	}
	// Argument errors never count as failed attempts.
	if err := s.auth.Authenticate(password); err != nil {
		s.logger.Warn("admin override refused", "kind", kind, "identity", identityID, "error", err)
		return nil, err
	}

	o := &model.AdminOverride{
		ID:         s.ids.New(),
		IdentityID: identityID,
		Kind:       kind,
		Amount:     amount,
		Timestamp:  s.clock.Now().UTC(),
		Actor:      s.actor,
		Reason:     reason,
	}
	if err := s.queue.EnqueueOverride(o); err != nil {
		return nil, fmt.Errorf("queueing %s override: %w", kind, err)
	}
	s.logger.Info("admin override queued", "id", o.ID, "kind", kind, "identity", identityID,
		"amount", amount, "actor", s.actor)
	return o, nil
}
