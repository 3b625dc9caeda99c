package policy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// Outcome is what a convergence pass did to one target.
type Outcome string

const (
	// OutcomeSkipped: the record already matched the document hash; no OS call.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRecorded: the document changed but this target's settings did
	// not; only the record was updated.
	OutcomeRecorded Outcome = "recorded"
	OutcomeApplied  Outcome = "applied"
	OutcomeRemoved  Outcome = "removed"
	OutcomeFailed   Outcome = "failed"
	// OutcomeUnsupported: the document names a target this machine has no writer for.
	OutcomeUnsupported Outcome = "unsupported"
)

// TargetResult is the per-target part of a ConvergenceResult.
type TargetResult struct {
	Target  string
	Outcome Outcome
	Summary *model.TargetSummary
	Err     error
}

// ConvergenceResult reports one Apply call.
type ConvergenceResult struct {
	ContentHash string
	Targets     []TargetResult
}

// Failed returns the targets whose write or removal failed.
func (r *ConvergenceResult) Failed() []TargetResult {
	var out []TargetResult
	for _, t := range r.Targets {
		if t.Outcome == OutcomeFailed {
			out = append(out, t)
		}
	}
	return out
}

// Writes counts targets that touched the OS.
func (r *ConvergenceResult) Writes() int {
	n := 0
	for _, t := range r.Targets {
		if t.Outcome == OutcomeApplied || t.Outcome == OutcomeRemoved {
			n++
		}
	}
	return n
}

// Err joins the failures, or returns nil.
func (r *ConvergenceResult) Err() error {
	var errs []error
	for _, t := range r.Failed() {
		errs = append(errs, t.Err)
	}
	return errors.Join(errs...)
}

// Engine converges the managed targets onto a policy document. It is the
// only writer of the policy-state document and is not meant to run two
// passes at once; Apply serializes callers.
type Engine struct {
	store      curfew.StateStore
	writers    map[string]curfew.PolicyWriter
	translator curfew.Translator
	offload    curfew.Offloader
	clock      curfew.Clock
	logger     curfew.Logger

	passMu sync.Mutex // held for a whole pass

	mu    sync.Mutex
	state *model.PolicyState
	dirty map[string]bool
}

// NewEngine creates an engine over the given writers, keyed by Target().
func NewEngine(store curfew.StateStore, writers []curfew.PolicyWriter, translator curfew.Translator,
	offload curfew.Offloader, clock curfew.Clock, logger curfew.Logger) *Engine {
	byTarget := make(map[string]curfew.PolicyWriter, len(writers))
	for _, w := range writers {
		byTarget[w.Target()] = w
	}
	return &Engine{
		store:      store,
		writers:    byTarget,
		translator: translator,
		offload:    offload,
		clock:      clock,
		logger:     logger,
		dirty:      make(map[string]bool),
	}
}

// Targets returns the managed targets in order.
func (e *Engine) Targets() []string {
	return slices.Sorted(maps.Keys(e.writers))
}

// Writer returns the writer for a target.
func (e *Engine) Writer(target string) (curfew.PolicyWriter, bool) {
	w, ok := e.writers[target]
	return w, ok
}

// MarkDirty forces target to be rewritten on the next pass even if its
// record matches.
func (e *Engine) MarkDirty(target string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.writers[target]; ok {
		e.dirty[target] = true
	}
}

// NeedsFullFetch reports whether the poller must request the document
// without its cached validator: a target failed, drifted, or the records
// were lost.
func (e *Engine) NeedsFullFetch() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		e.loadLocked()
	}
	return len(e.dirty) > 0
}

// State returns a copy of the current policy state.
func (e *Engine) State() model.PolicyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		e.loadLocked()
	}
	st := *e.state
	st.Targets = maps.Clone(e.state.Targets)
	return st
}

// CheckDrift compares the on-disk digest of a file-backed target with the
// last written one and marks the target dirty when they differ. It reports
// whether drift was found.
func (e *Engine) CheckDrift(target string) (bool, error) {
	w, ok := e.writers[target]
	if !ok {
		return false, nil
	}
	reporter, ok := w.(curfew.DigestReporter)
	if !ok {
		return false, nil
	}
	current, err := reporter.CurrentDigest()
	if err != nil {
		return false, fmt.Errorf("reading %s digest: %w", target, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		e.loadLocked()
	}
	rec, ok := e.state.Targets[target]
	if !ok || rec.Summary.Digest == "" || rec.Summary.Digest == current {
		return false, nil
	}
	e.dirty[target] = true
	e.logger.Warn("managed policy changed outside curfew", "target", target, "location", w.Location())
	return true, nil
}

// Apply converges every managed target onto doc. Targets are handled one
// at a time in name order; a failing target keeps its previous record and
// does not stop the others. A document that fails translation for any
// target is rejected before anything is written.
func (e *Engine) Apply(ctx context.Context, doc *model.PolicyDocument) (*ConvergenceResult, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	hash, err := ContentHash(doc)
	if err != nil {
		return nil, curfew.NewError(curfew.ErrDocumentInvalid, "hash", err)
	}

	desired := make(map[string]model.TargetSettings)
	result := &ConvergenceResult{ContentHash: hash}
	for _, name := range slices.Sorted(maps.Keys(doc.Targets)) {
		if _, ok := e.writers[name]; !ok {
			result.Targets = append(result.Targets, TargetResult{Target: name, Outcome: OutcomeUnsupported})
			continue
		}
		settings, err := e.translator.Translate(name, doc.Targets[name])
		if err != nil {
			if errors.Is(err, curfew.ErrUnsupported) {
				result.Targets = append(result.Targets, TargetResult{Target: name, Outcome: OutcomeUnsupported})
				continue
			}
			return nil, fmt.Errorf("document %s rejected: %w", short(hash), err)
		}
		desired[name] = settings
	}

	e.mu.Lock()
	if e.state == nil {
		e.loadLocked()
	}
	e.mu.Unlock()

	var saveErrs []error
	for _, name := range e.Targets() {
		settings, wanted := desired[name]
		var tr TargetResult
		if wanted {
			tr = e.converge(ctx, name, hash, settings)
		} else {
			var skip bool
			tr, skip = e.remove(ctx, name)
			if skip {
				continue
			}
		}
		result.Targets = append(result.Targets, tr)

		if tr.Outcome == OutcomeApplied || tr.Outcome == OutcomeRecorded || tr.Outcome == OutcomeRemoved {
			if err := e.save(); err != nil {
				saveErrs = append(saveErrs, err)
			}
		}
	}
	slices.SortFunc(result.Targets, func(a, b TargetResult) int {
		return strings.Compare(a.Target, b.Target)
	})

	if len(result.Failed()) == 0 && len(saveErrs) == 0 {
		e.mu.Lock()
		now := e.clock.Now().UTC()
		changed := e.state.ContentHash != hash
		e.state.ContentHash = hash
		if changed || e.state.AppliedAt == nil {
			e.state.AppliedAt = &now
		}
		e.mu.Unlock()
		if err := e.save(); err != nil {
			saveErrs = append(saveErrs, err)
		}
	}

	if len(saveErrs) > 0 {
		// Records on disk are behind the OS; rewrite everything next time.
		e.mu.Lock()
		e.markAllDirtyLocked()
		e.mu.Unlock()
		return result, fmt.Errorf("persisting policy state: %w", errors.Join(saveErrs...))
	}
	return result, nil
}

func (e *Engine) converge(ctx context.Context, target, hash string, settings model.TargetSettings) TargetResult {
	settingsHash, err := SettingsHash(settings)
	if err != nil {
		return TargetResult{Target: target, Outcome: OutcomeFailed, Err: curfew.NewError(curfew.ErrDocumentInvalid, "hash "+target, err)}
	}

	e.mu.Lock()
	rec, hasRecord := e.state.Targets[target]
	if hasRecord && !e.dirty[target] {
		if rec.ContentHash == hash {
			e.mu.Unlock()
			return TargetResult{Target: target, Outcome: OutcomeSkipped, Summary: &rec.Summary}
		}
		if rec.SettingsHash == settingsHash {
			rec.ContentHash = hash
			e.state.Targets[target] = rec
			e.mu.Unlock()
			e.logger.Debug("target settings unchanged", "target", target, "hash", short(hash))
			return TargetResult{Target: target, Outcome: OutcomeRecorded, Summary: &rec.Summary}
		}
	}
	e.mu.Unlock()

	w := e.writers[target]
	var summary model.TargetSummary
	err = e.offload.Do(ctx, func() error {
		var werr error
		summary, werr = w.Replace(settings)
		return werr
	})
	if err != nil {
		if !errors.Is(err, curfew.ErrPlatformWrite) {
			err = curfew.NewError(curfew.ErrPlatformWrite, "replace "+target, err)
		}
		e.MarkDirty(target)
		e.logger.Error("policy write failed", "target", target, "hash", short(hash), "location", w.Location(), "error", err)
		return TargetResult{Target: target, Outcome: OutcomeFailed, Err: err}
	}

	e.mu.Lock()
	e.state.Targets[target] = model.AppliedPolicyRecord{
		Target:       target,
		ContentHash:  hash,
		SettingsHash: settingsHash,
		AppliedAt:    e.clock.Now().UTC(),
		Summary:      summary,
	}
	delete(e.dirty, target)
	e.mu.Unlock()

	e.logger.Info("policy applied", "target", target, "hash", short(hash), "location", summary.Location,
		"identifiers", len(summary.AppliedIdentifiers))
	return TargetResult{Target: target, Outcome: OutcomeApplied, Summary: &summary}
}

// remove clears a target the document no longer names. skip is true when
// there is nothing to do.
func (e *Engine) remove(ctx context.Context, target string) (tr TargetResult, skip bool) {
	e.mu.Lock()
	_, hasRecord := e.state.Targets[target]
	dirty := e.dirty[target]
	e.mu.Unlock()
	if !hasRecord && !dirty {
		return TargetResult{}, true
	}

	w := e.writers[target]
	if err := e.offload.Do(ctx, w.Remove); err != nil {
		if !errors.Is(err, curfew.ErrPlatformWrite) {
			err = curfew.NewError(curfew.ErrPlatformWrite, "remove "+target, err)
		}
		e.MarkDirty(target)
		e.logger.Error("policy removal failed", "target", target, "location", w.Location(), "error", err)
		return TargetResult{Target: target, Outcome: OutcomeFailed, Err: err}, false
	}

	e.mu.Lock()
	delete(e.state.Targets, target)
	delete(e.dirty, target)
	e.mu.Unlock()
	e.logger.Info("policy removed", "target", target, "location", w.Location())
	return TargetResult{Target: target, Outcome: OutcomeRemoved}, false
}

// loadLocked reads the policy state. Must be called with e.mu held.
func (e *Engine) loadLocked() {
	st, err := e.store.LoadPolicyState()
	if err != nil {
		// Corrupt or unreadable: converge everything from scratch.
		e.logger.Error("policy state unusable, forcing full re-apply", "error", err)
	}
	if st == nil {
		st = model.NewPolicyState()
	}
	e.state = st
	if err != nil || len(st.Targets) == 0 {
		e.markAllDirtyLocked()
	}
}

func (e *Engine) markAllDirtyLocked() {
	for target := range e.writers {
		e.dirty[target] = true
	}
}

func (e *Engine) save() error {
	e.mu.Lock()
	st := *e.state
	st.Targets = maps.Clone(e.state.Targets)
	e.mu.Unlock()
	return e.store.SavePolicyState(&st)
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
